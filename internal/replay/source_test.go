package replay

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderSource(t *testing.T) {
	src := NewReaderSource(strings.NewReader("\n" + `{"kind":"page","ts":1}` + "\n   \n" + `{"kind":"scroll","ts":2,"scroll_y":40}` + "\n"))
	ctx := context.Background()

	rec, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindPage, rec.Kind)

	rec, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40.0, rec.ScrollY)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderSource_ReportsLine(t *testing.T) {
	src := NewReaderSource(strings.NewReader(`{"kind":"page","ts":1}` + "\n" + `{"kind":"wheel"}`))
	_, err := src.Next(context.Background())
	require.NoError(t, err)
	_, err = src.Next(context.Background())
	require.ErrorIs(t, err, ErrMalformedRecord)
	assert.Contains(t, err.Error(), "line 2")
}

func TestTailSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"kind":"page","ts":1,"url":"/"}`+"\n"), 0o600))

	src, err := NewTailSource(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindPage, rec.Kind)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"kind":"pagehide","ts":5}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rec, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pagehide", rec.Kind)
	assert.Equal(t, int64(5), rec.Ts)

	short, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stop()
	_, err = src.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTailSource_MissingFile(t *testing.T) {
	_, err := NewTailSource(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}
