package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-procurement/internal/logger"
	"github.com/pesio-ai/be-procurement/internal/repository"
)

func createNumbered(t *testing.T, mem *repository.Memory, kind repository.DocumentKind, number string) {
	t.Helper()
	err := mem.Create(context.Background(), &repository.Document{
		Kind:        kind,
		Number:      number,
		Status:      repository.DocumentStatusDraft,
		TotalAmount: dec("1"),
		Currency:    "IDR",
		CreatedBy:   "user-1",
	})
	require.NoError(t, err)
}

func TestNumberGenerator_Generate(t *testing.T) {
	gen := NewNumberGenerator(logger.Nop())
	period := date(2026, 2, 7)

	t.Run("first number in a period", func(t *testing.T) {
		mem := repository.NewMemory()
		number, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.NoError(t, err)
		assert.Equal(t, "PR/2026/02/0001", number)
	})

	t.Run("increments past the last number", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/02/0006")
		number, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.NoError(t, err)
		assert.Equal(t, "PR/2026/02/0007", number)
	})

	t.Run("periods do not share sequences", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/01/0042")
		number, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.NoError(t, err)
		assert.Equal(t, "PR/2026/02/0001", number)
	})

	t.Run("kinds do not share sequences", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/02/0009")
		number, err := gen.Generate(context.Background(), mem, repository.KindOrder, period)
		require.NoError(t, err)
		assert.Equal(t, "PO/2026/02/0001", number)
	})

	t.Run("last number that fits the width", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/02/9998")
		number, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.NoError(t, err)
		assert.Equal(t, "PR/2026/02/9999", number)
	})

	t.Run("sequence exhausted at the padded width", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/02/9999")
		_, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.ErrorIs(t, err, ErrSequenceExhausted)

		// other periods are unaffected
		number, err := gen.Generate(context.Background(), mem, repository.KindRequisition, date(2026, 3, 1))
		require.NoError(t, err)
		assert.Equal(t, "PR/2026/03/0001", number)
	})

	t.Run("malformed stored number fails loudly", func(t *testing.T) {
		mem := repository.NewMemory()
		createNumbered(t, mem, repository.KindRequisition, "PR/2026/02/x7")
		_, err := gen.Generate(context.Background(), mem, repository.KindRequisition, period)
		require.Error(t, err)
	})
}

func TestNumberGenerator_ConcurrentGeneration(t *testing.T) {
	mem := repository.NewMemory()
	gen := NewNumberGenerator(logger.Nop())
	period := date(2026, 2, 7)

	const workers = 25
	numbers := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = mem.InTransaction(context.Background(), func(s repository.Stores) error {
				number, err := gen.Generate(context.Background(), s.Documents, repository.KindRequisition, period)
				if err != nil {
					return err
				}
				numbers[i] = number
				return s.Documents.Create(context.Background(), &repository.Document{
					Kind:        repository.KindRequisition,
					Number:      number,
					Status:      repository.DocumentStatusDraft,
					TotalAmount: dec("1"),
					Currency:    "IDR",
					CreatedBy:   "user-1",
					CreatedAt:   time.Now(),
				})
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	// gap-free and duplicate-free
	sort.Strings(numbers)
	for i, number := range numbers {
		assert.Equal(t, fmt.Sprintf("PR/2026/02/%04d", i+1), number)
	}
}
