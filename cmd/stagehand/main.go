package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"

	yml "gopkg.in/yaml.v2"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "stagehand.yml"
	k              = koanf.New(".")
)

// setupconfig layers the config sources: defaults, then the yaml file.  An
// explicit path must load; the implicit ConfigFileName is optional.
func setupconfig(path string) {
	k.Load(structs.Provider(DefaultConfig(), "koanf"), nil)
	if path != "" {
		cfg, err := LoadYaml(path)
		if err != nil {
			log.Fatalf("error loading config: %v", err)
		}
		if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `stagehand serves multi-channel motion and piezo controllers over HTTP.
Sessions are exposed one per URL stem; discovery, stage assignment, and link
groups live under /manager.

Usage:
	stagehand <command> [config file]

The optional second argument names the yaml config file to use; without it
stagehand.yml in the working directory is read when present.

Commands:
	run
	discover
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `stagehand is configured via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

Without any Nodes, the server still starts and serves /manager, which is
enough to discover attached devices and assign stages to channels.

Each node names a device serial number and channel; the controller model is
resolved from the first two digits of the serial.  Supported models:
- KDC101 (27) dc servo     - KBD101 (28) brushless
- TDC001 (83) dc servo     - KIM101 (97) 4-channel inertial
- KPZ101 (29) piezo        - TPZ001 (81) piezo

Two backends are probed in order: the kinesis gateway (primary) and the APT
serial bridge (legacy).  Brushless and inertial devices require the primary
backend.  A node may pin one with Backend: kinesis or Backend: apt.

Set Mock: true to run against an in-memory backend with no hardware.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("stagehand version %v\n", Version)
}

// discover enumerates attached devices, reading stage identities from the
// ones that store them, and prints a table
func discover() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mgr, _ := buildManager(c)
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " scanning for devices",
		SuffixAutoColon: true,
		StopCharacter:   "done",
	}
	spinner, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	spinner.Start()
	reports, err := mgr.ListDevicesWithStages()
	spinner.Stop()
	if err != nil {
		log.Fatal(err)
	}
	if len(reports) == 0 {
		fmt.Println("no devices found")
		return
	}
	fmt.Printf("%-10s %-8s %-10s %-4s %-12s %s\n",
		"SERIAL", "TYPE", "KIND", "CH", "STAGE", "CONFIGURED")
	for _, r := range reports {
		stage := r.MatchedStage
		if stage == "" && r.ReportedStage != "" {
			stage = r.ReportedStage + "?"
		}
		fmt.Printf("%-10s %-8s %-10s %-4d %-12s %v\n",
			r.Serial, r.Type, r.Kind, r.Channels, stage, r.Configured)
	}
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux, err := BuildMux(c)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, middleware.Logger(mux)))
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	path := ""
	if len(args) > 2 {
		path = args[2]
	}
	setupconfig(path)
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "discover":
		discover()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
