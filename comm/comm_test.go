package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/bdube/stagehand/comm"
)

// echoListener starts a TCP echo server on a free port and returns its
// address.  The listener is torn down with the test.
func echoListener(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen:", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func countingMaker(addr string, count *int) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		*count++
		return net.Dial("tcp", addr)
	}
}

func TestPoolGetToCapacity(t *testing.T) {
	addr := echoListener(t)
	dials := 0
	pool := comm.NewPool(3, time.Minute, countingMaker(addr, &dials))
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("nil connection with nil error")
		}
	}
	if pool.Size() != 3 {
		t.Errorf("pool size = %d, want 3", pool.Size())
	}
	if pool.Active() != 3 {
		t.Errorf("pool active = %d, want 3", pool.Active())
	}
	if dials != 3 {
		t.Errorf("dialed %d times, want 3", dials)
	}
}

func TestPoolReusesReturnedConns(t *testing.T) {
	addr := echoListener(t)
	dials := 0
	pool := comm.NewPool(1, time.Minute, countingMaker(addr, &dials))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	conn, err = pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	if dials != 1 {
		t.Errorf("dialed %d times, want 1", dials)
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	addr := echoListener(t)
	dials := 0
	pool := comm.NewPool(1, time.Minute, countingMaker(addr, &dials))
	held, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		got <- rw
	}()
	select {
	case <-got:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(250 * time.Millisecond):
	}
	pool.Put(held)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("blocked Get did not wake after Put")
	}
}

func TestReturnWithError(t *testing.T) {
	addr := echoListener(t)
	dials := 0
	pool := comm.NewPool(1, time.Minute, countingMaker(addr, &dials))
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, errors.New("device wedged"))
	if pool.Size() != 0 {
		t.Errorf("pool size after destroy = %d, want 0", pool.Size())
	}
	// a nil connection, as from a failed Get, must not panic
	pool.ReturnWithError(nil, errors.New("dial failed"))

	conn, err = pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, nil)
	if pool.Size() != 1 {
		t.Errorf("pool size after clean return = %d, want 1", pool.Size())
	}
}

// scriptedRW plays back canned reads and records writes
type scriptedRW struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (s *scriptedRW) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scriptedRW) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestTerminatorWriteAppendsAndReadStrips(t *testing.T) {
	s := &scriptedRW{}
	s.in.WriteString("12.5\n")
	wrap := comm.NewTerminator(s, '\n', '\n')

	n, err := io.WriteString(wrap, "POS? 27000001")
	if err != nil {
		t.Fatal(err)
	}
	if n != len("POS? 27000001") {
		t.Errorf("n = %d, want %d", n, len("POS? 27000001"))
	}
	if got := s.out.String(); got != "POS? 27000001\n" {
		t.Errorf("wire content %q, want trailing terminator", got)
	}

	buf := make([]byte, 64)
	n, err = wrap.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "12.5" {
		t.Errorf("read %q, want 12.5 with terminator stripped", got)
	}
}

func TestTerminatorReadOverflow(t *testing.T) {
	s := &scriptedRW{}
	s.in.WriteString("0123456789")
	wrap := comm.NewTerminator(s, '\n', '\n')
	buf := make([]byte, 4)
	_, err := wrap.Read(buf)
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("err = %v, want ErrTerminatorNotFound", err)
	}
}

func TestTimeoutPassthrough(t *testing.T) {
	s := &scriptedRW{}
	s.in.WriteString("ok")
	wrap := comm.NewTimeout(s, time.Second)
	buf := make([]byte, 2)
	if _, err := wrap.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ok" {
		t.Errorf("read %q, want ok", buf)
	}
	if _, err := wrap.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
}

func TestRemoteDeviceSendRecv(t *testing.T) {
	addr := echoListener(t)
	rd := comm.NewRemoteDevice(addr, false)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("IDENT 29001234"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "IDENT 29001234" {
		t.Errorf("echo round trip = %q", resp)
	}
}
