package notification

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal SMTP server that accepts the envelope and answers
// the end of DATA with dataReply.
func fakeRelay(t *testing.T, dataReply string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveRelayConn(conn, dataReply)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func serveRelayConn(conn net.Conn, dataReply string) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	r := bufio.NewReader(conn)
	reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }

	reply("220 relay.test ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			reply("250-relay.test")
			reply("250 8BITMIME")
		case strings.HasPrefix(cmd, "DATA"):
			reply("354 end with <CRLF>.<CRLF>")
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
			}
			reply(dataReply)
		case strings.HasPrefix(cmd, "QUIT"):
			reply("221 bye")
			return
		default:
			reply("250 OK")
		}
	}
}

func newRelayTransport(t *testing.T, port int) *SMTPTransport {
	t.Helper()
	tr, err := NewSMTPTransport(SMTPConfig{
		Host:       "127.0.0.1",
		Port:       port,
		FromAddr:   "noreply@example.com",
		Encryption: "none",
		Timeout:    5 * time.Second,
	})
	require.NoError(t, err)
	return tr
}

func TestSMTPTransport_Send(t *testing.T) {
	tr := newRelayTransport(t, fakeRelay(t, "250 2.0.0 queued"))

	receipt, err := tr.Send(context.Background(), sampleMessage())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(receipt.DeliveryID, "@notifyd>"))
}

func TestSMTPTransport_RejectedAtDataIsPermanent(t *testing.T) {
	tr := newRelayTransport(t, fakeRelay(t, "554 5.7.1 Message rejected as spam"))

	_, err := tr.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "got %v", err)
}

func TestSMTPTransport_DeferredAtDataIsTransient(t *testing.T) {
	tr := newRelayTransport(t, fakeRelay(t, "451 4.3.0 try again later"))

	_, err := tr.Send(context.Background(), sampleMessage())
	require.Error(t, err)
	assert.False(t, IsPermanent(err), "got %v", err)
	var te *TransientError
	assert.ErrorAs(t, err, &te)
}
