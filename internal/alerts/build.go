package alerts

import (
	"fmt"
	"io"
	"strings"

	"github.com/liamashdown/amlwatch/internal/aml"
	"github.com/liamashdown/amlwatch/internal/config"
	"github.com/sirupsen/logrus"
)

// FromConfig builds the sender chain for ALERT_MODE, filtered by
// ALERT_MIN_LEVEL. The returned closers must be closed on shutdown.
func FromConfig(cfg *config.Config, log *logrus.Logger) (Sender, []io.Closer, error) {
	minLevel, ok := aml.ParseRiskLevel(cfg.AlertMinLevel)
	if !ok {
		return nil, nil, fmt.Errorf("invalid ALERT_MIN_LEVEL: %s", cfg.AlertMinLevel)
	}

	var (
		senders []Sender
		closers []io.Closer
	)
	for _, mode := range strings.Split(cfg.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
			senders = append(senders, NewLogSender(log))
		case "discord":
			for _, url := range cfg.DiscordWebhookURLs {
				senders = append(senders, NewDiscordSender(url))
			}
		case "smtp":
			senders = append(senders, NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		case "kafka":
			k, err := NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
			if err != nil {
				for _, c := range closers {
					_ = c.Close()
				}
				return nil, nil, err
			}
			senders = append(senders, k)
			closers = append(closers, k)
		case "":
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	if len(senders) == 0 {
		log.Warn("No valid alert senders configured, using log")
		senders = append(senders, NewLogSender(log))
	}

	var sender Sender = senders[0]
	if len(senders) > 1 {
		sender = NewMultiSender(senders...)
	}
	return NewLevelFilter(minLevel, sender), closers, nil
}
