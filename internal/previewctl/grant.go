// Package previewctl implements the operator tool that issues encrypted
// secure download grants to the docseal server.
package previewctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/docseal/internal/common"
	"github.com/dmitrijs2005/docseal/internal/cryptox"
	"github.com/dmitrijs2005/docseal/internal/server/events"
	"github.com/dmitrijs2005/docseal/internal/server/services"
)

// KeyEnv names the environment variable holding the preview key. When it
// is unset the key is read from the terminal.
const KeyEnv = "DOCSEAL_PREVIEW_KEY"

type Tool struct {
	in  *bufio.Reader
	out io.Writer
	pub events.Publisher
	now func() time.Time
}

func NewTool(in io.Reader, out io.Writer, pub events.Publisher) *Tool {
	return &Tool{in: bufio.NewReader(in), out: out, pub: pub, now: time.Now}
}

// Run completes o interactively, encrypts the grant and publishes it, or
// prints it when o.DryRun is set.
func (t *Tool) Run(ctx context.Context, o Options) error {
	fields := []struct {
		dst    *string
		prompt string
	}{
		{&o.SealedDocumentID, "Sealed document id"},
		{&o.SignerID, "Signer id"},
		{&o.AccessToken, "Access token"},
		{&o.SessionID, "Session id"},
		{&o.RequestFingerprint, "Request fingerprint"},
	}
	for _, f := range fields {
		if *f.dst != "" {
			continue
		}
		v, err := GetSimpleText(t.in, f.prompt, t.out)
		if err != nil {
			return err
		}
		if v == "" {
			return fmt.Errorf("%s is required", f.prompt)
		}
		*f.dst = v
	}

	key, err := t.readKey()
	if err != nil {
		return err
	}
	defer common.WipeByteArray(key)

	encrypted, hash, err := services.EncryptPreviewPayload(events.PreviewPayload{
		SignerID:           o.SignerID,
		AccessToken:        o.AccessToken,
		SessionID:          o.SessionID,
		RequestFingerprint: o.RequestFingerprint,
	}, key)
	if err != nil {
		return err
	}

	now := t.now().UTC()
	env, err := events.NewEnvelope(events.TypeSecureDownloadSignedDocument, o.SealedDocumentID, events.SecureDownloadSignedDocument{
		EncryptedPayload: encrypted,
		PayloadHash:      hash,
		SealedDocumentID: o.SealedDocumentID,
		ExpiresAt:        now.Add(o.TTL),
	}, now)
	if err != nil {
		return err
	}

	if o.DryRun {
		b, err := events.Marshal(env)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(t.out, string(b))
		return err
	}

	if err := t.pub.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	fmt.Fprintf(t.out, "grant %s published for signer %s, expires %s\n", env.ID, o.SignerID, now.Add(o.TTL).Format(time.RFC3339))
	return nil
}

func (t *Tool) readKey() ([]byte, error) {
	raw := os.Getenv(KeyEnv)
	if raw == "" {
		b, err := GetSecret("Preview key (hex or base64)", t.out)
		if err != nil {
			return nil, err
		}
		raw = string(b)
		common.WipeByteArray(b)
	}
	return cryptox.ParseKey(raw)
}
