package tcpconnector

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSender struct {
	mu   sync.Mutex
	cmds []string
	data [][]byte
}

func (f *fakeSender) JetSend(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = append(f.data, data)
	return nil
}

func (f *fakeSender) SendJetCmd(ctx context.Context, cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return nil
}

func (f *fakeSender) lastCmd() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cmds) == 0 {
		return ""
	}
	return f.cmds[len(f.cmds)-1]
}

func TestPeerGatingDeniesByDefault(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, zerolog.Nop())
	c.HandleCommand(context.Background(), "forward_to 127.0.0.1:1")
	time.Sleep(20 * time.Millisecond)
	c.mu.Lock()
	active := c.conn != nil
	c.mu.Unlock()
	if active {
		t.Fatal("forward_to opened an outbound connection despite allow_port_forwarding being false")
	}
}

func TestJetSingleton(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, zerolog.Nop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	c.listener = ln
	go c.acceptLoop(context.Background(), ln)

	dial := func() net.Conn {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatal(err)
		}
		return conn
	}

	first := dial()
	defer first.Close()
	time.Sleep(20 * time.Millisecond)

	second := dial()
	defer second.Close()

	buf := make([]byte, 1)
	second.SetReadDeadline(time.Now().Add(time.Second))
	_, err = second.Read(buf)
	if err == nil {
		t.Fatal("expected second connection to be closed immediately (jet channel singleton)")
	}

	if sender.lastCmd() == "" {
		t.Fatal("expected a forward_to jet command to have been sent for the first connection")
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	sender := &fakeSender{}
	c := New(sender, zerolog.Nop())
	c.HandleCommand(context.Background(), "frobnicate now")
	c.mu.Lock()
	active := c.conn != nil
	c.mu.Unlock()
	if active {
		t.Fatal("unknown command should not open a connection")
	}
}
