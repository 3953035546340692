package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Archiver stores every batch of new opportunities as one JSONL object. It
// satisfies notify.Broadcaster.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver writing under prefix ("opportunities" when
// empty).
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	if prefix == "" {
		prefix = "opportunities"
	}
	return &Archiver{writer: writer, prefix: prefix, now: time.Now}
}

// Broadcast uploads opps to <prefix>/YYYY/MM/DD/<unix>-<uuid>.jsonl.
func (a *Archiver) Broadcast(ctx context.Context, opps []domain.Opportunity) error {
	if len(opps) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, opp := range opps {
		if err := enc.Encode(opp); err != nil {
			return fmt.Errorf("s3blob: encode opportunity %d: %w", i, err)
		}
	}

	path := a.objectPath(a.now().UTC())
	if err := a.writer.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("%w: archive: %v", domain.ErrDelivery, err)
	}
	return nil
}

func (a *Archiver) objectPath(at time.Time) string {
	return fmt.Sprintf("%s/%s/%d-%s.jsonl", a.prefix, at.Format("2006/01/02"), at.Unix(), uuid.NewString())
}

// Name returns "archive".
func (a *Archiver) Name() string { return "archive" }
