package previewctl

import (
	"flag"
	"io"
	"strings"
	"time"
)

// Options for one grant. Empty identity fields are prompted for.
type Options struct {
	Brokers            []string
	Topic              string
	SealedDocumentID   string
	SignerID           string
	AccessToken        string
	SessionID          string
	RequestFingerprint string
	TTL                time.Duration
	DryRun             bool
}

// ParseArgs reads command-line flags.
func ParseArgs(args []string, errOut io.Writer) (Options, error) {
	var o Options
	var brokers string

	fs := flag.NewFlagSet("previewctl", flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&brokers, "b", "127.0.0.1:9092", "comma-separated Kafka brokers")
	fs.StringVar(&o.Topic, "t", "signature-commands", "topic the docseal server consumes")
	fs.StringVar(&o.SealedDocumentID, "d", "", "sealed document id")
	fs.StringVar(&o.SignerID, "signer", "", "signer id")
	fs.StringVar(&o.AccessToken, "token", "", "access token handed to the signer")
	fs.StringVar(&o.SessionID, "session", "", "session id handed to the signer")
	fs.StringVar(&o.RequestFingerprint, "fingerprint", "", "request fingerprint")
	fs.DurationVar(&o.TTL, "ttl", 24*time.Hour, "how long the grant stays valid")
	fs.BoolVar(&o.DryRun, "n", false, "print the event instead of publishing it")

	if err := fs.Parse(args); err != nil {
		return Options{}, err
	}
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			o.Brokers = append(o.Brokers, b)
		}
	}
	return o, nil
}
