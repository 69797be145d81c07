// Package smtp e-mails the repository administrators.
package smtp

import (
    "context"
    "fmt"
    "log/slog"
    "net"
    "net/smtp"
    "strconv"
    "strings"
    "time"

    "github.com/odomlab/odom-data-processing/internal/ports"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Notifier struct {
    addr   string
    from   string
    admins []string
    send   sendFunc
    log    *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

func New(host string, port int, from string, admins []string, logger *slog.Logger) *Notifier {
    if logger == nil { logger = slog.Default() }
    return &Notifier{
        addr:   net.JoinHostPort(host, strconv.Itoa(port)),
        from:   from,
        admins: admins,
        send:   smtp.SendMail,
        log:    logger,
    }
}

func (n *Notifier) EmailAdmins(_ context.Context, subject, body string) error {
    if len(n.admins) == 0 {
        n.log.Warn("no administrators configured, mail not sent", "subject", subject)
        return nil
    }
    var msg strings.Builder
    fmt.Fprintf(&msg, "From: %s\r\n", n.from)
    fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.admins, ", "))
    fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
    fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
    msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
    msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
    if err := n.send(n.addr, nil, n.from, n.admins, []byte(msg.String())); err != nil {
        return fmt.Errorf("send mail via %s: %w", n.addr, err)
    }
    n.log.Info("emailed administrators", "subject", subject, "recipients", len(n.admins))
    return nil
}

// LogNotifier stands in when no mail relay is configured.
type LogNotifier struct{ Log *slog.Logger }

func (l LogNotifier) EmailAdmins(_ context.Context, subject, body string) error {
    logger := l.Log
    if logger == nil { logger = slog.Default() }
    logger.Warn("administrator notification", "subject", subject, "body", body)
    return nil
}
