package provisioning

import (
	"bufio"
	"context"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/chirpstack-end-device/internal/commandchannel"
	"github.com/brocaar/chirpstack-end-device/internal/credentials"
	"github.com/brocaar/chirpstack-end-device/internal/logging"
)

// maxLineLength is the maximum length of a command line.
const maxLineLength = 128

// responses
const (
	responseOK    = "OK"
	responseError = "ERROR"
)

type listener struct {
	coordinator *Coordinator
	channel     commandchannel.Channel
}

// serve reads and handles command lines until the channel is closed.
func (l *listener) serve(ctx context.Context) {
	r := bufio.NewReader(l.channel)

	var line []byte
	var overflow bool

	for {
		b, err := r.ReadByte()
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				log.WithError(err).Error("provisioning: read command channel error")
			}
			log.Info("provisioning: listener stopped")
			return
		}

		if b != '\r' && b != '\n' {
			if len(line) < maxLineLength {
				line = append(line, b)
			} else {
				overflow = true
			}
			continue
		}

		switch {
		case overflow:
			commandCounter("overflow", responseError).Inc()
			log.Warning("provisioning: command line too long")
			l.respond(responseError)
		case len(line) != 0:
			l.handleLine(ctx, string(line))
		}

		line = line[:0]
		overflow = false
	}
}

func (l *listener) handleLine(ctx context.Context, line string) {
	ctx, err := logging.NewContext(ctx)
	if err != nil {
		log.WithError(err).Error("provisioning: create context error")
	}

	cmd, arg := line, ""
	if i := strings.IndexAny(line, "=?"); i != -1 {
		cmd, arg = line[:i+1], line[i+1:]
	}
	cmd = strings.ToUpper(strings.TrimSpace(cmd))

	var resp []string
	switch cmd {
	case "AT":
		resp = []string{responseOK}
	case "AT+PROV?":
		resp = l.queryCredentials(ctx, arg)
	case "AT+PROV=":
		resp = l.provision(ctx, arg)
	case "AT+PROVM=":
		resp = l.provisionWithMAC(ctx, arg)
	case "AT+MAC?":
		resp = l.queryDeviceEUI(ctx, arg)
	default:
		resp = []string{responseError}
	}

	commandCounter(commandLabel(cmd), resp[len(resp)-1]).Inc()
	logging.FromContext(ctx).WithFields(log.Fields{
		"command":  cmd,
		"response": resp[len(resp)-1],
	}).Info("provisioning: command handled")

	l.respond(resp...)
}

func (l *listener) queryCredentials(ctx context.Context, arg string) []string {
	if arg != "" {
		return []string{responseError}
	}

	creds, err := l.coordinator.store.Load(ctx)
	if err != nil {
		creds = credentials.Credentials{}
	}

	return []string{creds.String(), responseOK}
}

func (l *listener) provision(ctx context.Context, arg string) []string {
	parts := strings.Split(arg, "-")
	if len(parts) != 3 {
		return []string{responseError}
	}

	if err := l.coordinator.Provision(ctx, parts[0], parts[1], parts[2]); err != nil {
		logging.FromContext(ctx).WithError(err).Warning("provisioning: provision error")
		return []string{responseError}
	}

	l.coordinator.signalProvisioned()
	return []string{responseOK}
}

func (l *listener) provisionWithMAC(ctx context.Context, arg string) []string {
	parts := strings.Split(arg, "-")
	if len(parts) != 2 {
		return []string{responseError}
	}

	if err := l.coordinator.ProvisionWithMAC(ctx, parts[0], parts[1]); err != nil {
		logging.FromContext(ctx).WithError(err).Warning("provisioning: provision with mac error")
		return []string{responseError}
	}

	l.coordinator.signalProvisioned()
	return []string{responseOK}
}

func (l *listener) queryDeviceEUI(ctx context.Context, arg string) []string {
	if arg != "" {
		return []string{responseError}
	}

	devEUI, err := l.coordinator.DeviceEUI()
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warning("provisioning: get device eui error")
		return []string{responseError}
	}

	return []string{strings.ToUpper(devEUI.String()), responseOK}
}

// respond writes every line as \r\n<line>\r\n.
func (l *listener) respond(lines ...string) {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString("\r\n")
		b.WriteString(line)
		b.WriteString("\r\n")
	}

	if _, err := io.WriteString(l.channel, b.String()); err != nil {
		log.WithError(err).Error("provisioning: write response error")
	}
}

func commandLabel(cmd string) string {
	switch cmd {
	case "AT", "AT+PROV?", "AT+PROV=", "AT+PROVM=", "AT+MAC?":
		return cmd
	default:
		return "unknown"
	}
}
