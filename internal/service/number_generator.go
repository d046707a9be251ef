package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pesio-ai/be-procurement/internal/errors"
	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

// sequenceWidth is the fixed zero-padded width of the numeric suffix.
// Padding is load-bearing: the last-number lookup orders lexicographically,
// which only matches numeric order while every suffix has the same width.
// maxSequence is the largest suffix that still fits the width.
const (
	sequenceWidth = 4
	maxSequence   = 9999
)

// NumberGenerator produces period-scoped sequential document numbers such as
// PR/2026/02/0007. It must run inside the same transaction that inserts the
// resulting document; the store's row lock is what keeps two concurrent
// submissions from computing the same next number.
type NumberGenerator struct {
	log *logger.Logger
}

// NewNumberGenerator creates a NumberGenerator.
func NewNumberGenerator(log *logger.Logger) *NumberGenerator {
	return &NumberGenerator{log: log}
}

// Generate returns the next number for the kind in the period's year/month.
// Once the period's suffix range is used up it returns ErrSequenceExhausted.
func (g *NumberGenerator) Generate(ctx context.Context, docs repository.DocumentStore, kind repository.DocumentKind, period time.Time) (string, error) {
	prefix := fmt.Sprintf("%s/%d/%02d", kind.NumberPrefix(), period.Year(), int(period.Month()))

	last, err := docs.LastNumberForPrefix(ctx, kind, prefix)
	if err != nil {
		return "", err
	}

	next := 1
	if last != "" {
		idx := strings.LastIndex(last, "/")
		seq, err := strconv.Atoi(last[idx+1:])
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInternal,
				fmt.Sprintf("malformed document number %q", last))
		}
		next = seq + 1
	}
	if next > maxSequence {
		return "", fmt.Errorf("prefix %s: %w", prefix, ErrSequenceExhausted)
	}

	number := fmt.Sprintf("%s/%0*d", prefix, sequenceWidth, next)

	g.log.Debug().
		Str("kind", string(kind)).
		Str("number", number).
		Msg("Document number generated")

	return number, nil
}
