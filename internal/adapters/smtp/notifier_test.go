package smtp

import (
    "bytes"
    "context"
    "errors"
    "log/slog"
    "net/smtp"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestEmailAdmins(t *testing.T) {
    n := New("mail.example.org", 25, "osqpipe@example.org", []string{"a@example.org", "b@example.org"}, nil)
    var gotAddr string
    var gotTo []string
    var gotMsg []byte
    n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
        gotAddr, gotTo, gotMsg = addr, to, msg
        return nil
    }
    require.NoError(t, n.EmailAdmins(context.Background(), "Missing libraries", "do1\ndo2"))
    assert.Equal(t, "mail.example.org:25", gotAddr)
    assert.Equal(t, []string{"a@example.org", "b@example.org"}, gotTo)
    assert.Contains(t, string(gotMsg), "Subject: Missing libraries\r\n")
    assert.Contains(t, string(gotMsg), "do1\r\ndo2")
}

func TestEmailAdminsErrors(t *testing.T) {
    n := New("mail", 25, "x@y", []string{"a@b"}, nil)
    n.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
    assert.ErrorContains(t, n.EmailAdmins(context.Background(), "s", "b"), "relay denied")

    var buf bytes.Buffer
    quiet := New("mail", 25, "x@y", nil, slog.New(slog.NewTextHandler(&buf, nil)))
    quiet.send = func(string, smtp.Auth, string, []string, []byte) error { t.Fatal("must not send"); return nil }
    require.NoError(t, quiet.EmailAdmins(context.Background(), "s", "b"))
    assert.Contains(t, buf.String(), "no administrators configured")
}
