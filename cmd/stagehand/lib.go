package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/bdube/stagehand/apt"
	"github.com/bdube/stagehand/backend"
	"github.com/bdube/stagehand/config"
	"github.com/bdube/stagehand/generichttp"
	"github.com/bdube/stagehand/generichttp/ascii"
	"github.com/bdube/stagehand/generichttp/motion"
	"github.com/bdube/stagehand/kinesis"
	"github.com/bdube/stagehand/manager"
	"github.com/bdube/stagehand/server/middleware/locker"
	"github.com/bdube/stagehand/util"

	"github.com/go-yaml/yaml"
	goji "goji.io"
	"goji.io/pat"
)

// Minmax holds a min and max value
type Minmax struct {
	Min float64 `yaml:"Min"`
	Max float64 `yaml:"Max"`
}

// NodeSetup describes one controller session to serve over HTTP
type NodeSetup struct {
	// Serial is the device serial number, e.g. 27123456
	Serial string `yaml:"Serial"`

	// Channel is the 1-based channel to drive; only the inertial 4-axis
	// type has more than one.  Zero means 1.
	Channel int `yaml:"Channel"`

	// Endpoint is the URL stem the node's routes hang off,
	// e.g. "omc/hwp" => /omc/hwp/pos and friends
	Endpoint string `yaml:"Endpoint"`

	// Backend forces "kinesis" or "apt" for this node; empty or "auto"
	// probes in priority order
	Backend string `yaml:"Backend"`

	// Connect opens the device at startup instead of on the first
	// /connect call.  A failed startup connect is a warning, not fatal.
	Connect bool `yaml:"Connect"`

	// Limits bounds commanded positions in stage units, nil for none
	Limits *Minmax `yaml:"Limits"`
}

// Config holds the initialization parameters for the daemon.  It is
// populated from the yaml config file.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// DeviceConfig is the path to the channel assignment document
	DeviceConfig string `yaml:"DeviceConfig"`

	// KinesisAddr is where the primary backend's gateway listens
	KinesisAddr string `yaml:"KinesisAddr"`

	// APTPort is the serial port of the legacy backend's bridge
	APTPort string `yaml:"APTPort"`

	// Mock replaces the backends with an in-memory fake for development
	Mock bool `yaml:"Mock"`

	// MockSerials are extra serial numbers the mock enumerates beyond
	// those of the configured nodes
	MockSerials []string `yaml:"MockSerials"`

	// Nodes is the list of controller sessions to serve
	Nodes []NodeSetup `yaml:"Nodes"`
}

// DefaultConfig is the baseline Config every load starts from
func DefaultConfig() Config {
	return Config{
		Addr:         ":8000",
		DeviceConfig: "devices.json",
		KinesisAddr:  kinesis.DefaultAddr,
		APTPort:      "/dev/ttyUSB0",
		Nodes:        []NodeSetup{},
	}
}

// LoadYaml decodes the yaml file at path over the default Config.  Unlike
// the implicit config file, an explicit path must exist and parse.
func LoadYaml(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// buildSelector assembles the backend pair, or the mock when requested
func buildSelector(c Config) backend.Selector {
	if c.Mock {
		serials := append([]string{}, c.MockSerials...)
		for _, node := range c.Nodes {
			serials = append(serials, node.Serial)
		}
		return backend.Selector{Primary: kinesis.NewMock(util.UniqueString(serials)...)}
	}
	return backend.Selector{
		Primary: kinesis.New(c.KinesisAddr),
		Legacy:  apt.NewHub(c.APTPort),
	}
}

// buildManager assembles the selector, store serving c.DeviceConfig, and
// manager over them
func buildManager(c Config) (*manager.Manager, backend.Selector) {
	sel := buildSelector(c)
	store := config.Open(c.DeviceConfig)
	return manager.New(sel, store), sel
}

// BuildMux constructs the root mux: one submux per configured node, the
// manager surface under /manager, and the /endpoints supergraph.
func BuildMux(c Config) (*goji.Mux, error) {
	mgr, sel := buildManager(c)
	root := goji.NewMux()
	supergraph := map[string][]string{}

	for _, node := range c.Nodes {
		channel := node.Channel
		if channel == 0 {
			channel = 1
		}
		ctl, err := mgr.CreateController(node.Serial, channel, node.Backend)
		if err != nil {
			return nil, err
		}
		if node.Connect {
			if err := ctl.Connect(); err != nil {
				log.Printf("warning: startup connect for %s failed: %v", node.Serial, err)
			}
		}
		httper := motion.NewHTTPController(ctl)

		submux := goji.SubMux()
		if node.Limits != nil {
			limiter := motion.LimitMiddleware{
				Limits: util.Limiter{Min: node.Limits.Min, Max: node.Limits.Max},
				C:      ctl,
			}
			limiter.Inject(httper)
			submux.Use(limiter.Check)
		}
		lock := locker.New()
		locker.Inject(httper, lock)
		submux.Use(lock.Check)

		stem := generichttp.SubMuxSanitize(node.Endpoint)
		supergraph[strings.TrimSuffix(stem, "*")] = httper.RT().Endpoints()
		root.Handle(pat.New(stem), submux)
		httper.RT().Bind(submux)
	}

	mh := manager.NewHTTPManager(mgr)
	if kin, ok := sel.Primary.(*kinesis.Kinesis); ok {
		ascii.InjectRawComm(mh, kin)
	}
	msub := goji.SubMux()
	mh.RT().Bind(msub)
	supergraph["/manager/"] = mh.RT().Endpoints()
	root.Handle(pat.New("/manager/*"), msub)

	root.HandleFunc(pat.Get("/endpoints"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(supergraph); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, nil
}
