package scanerr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"permission", &fs.PathError{Op: "open", Path: "/x", Err: fs.ErrPermission}, KindPermissionDenied},
		{"eacces", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, KindPermissionDenied},
		{"not exist", &fs.PathError{Op: "lstat", Path: "/x", Err: syscall.ENOENT}, KindPathVanished},
		{"eintr", &fs.PathError{Op: "read", Path: "/x", Err: syscall.EINTR}, KindTransientIO},
		{"emfile", &fs.PathError{Op: "open", Path: "/x", Err: syscall.EMFILE}, KindResourceExhausted},
		{"cancelled", fmt.Errorf("walk: %w", context.Canceled), KindCancelled},
		{"already classified", WrapKind("/x", KindUnreadableForHash, errors.New("boom")), KindUnreadableForHash},
		{"other", errors.New("boom"), KindOther},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestPathErrorIs(t *testing.T) {
	_, statErr := os.Lstat("/path/that/does/not/exist/xyz123")
	require.Error(t, statErr)

	err := Wrap("/path/that/does/not/exist/xyz123", statErr)
	assert.ErrorIs(t, err, ErrPathVanished)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, err, fs.ErrNotExist, "underlying error stays reachable")
	assert.Contains(t, err.Error(), "path_vanished")
	assert.Nil(t, Wrap("/x", nil))
}

func TestRetry(t *testing.T) {
	t.Run("transient then success", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return syscall.EAGAIN
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func() error {
			attempts++
			return fs.ErrPermission
		})
		assert.ErrorIs(t, err, fs.ErrPermission)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), func() error {
			attempts++
			return syscall.EBUSY
		})
		assert.Equal(t, KindTransientIO, Classify(err))
		assert.Equal(t, MaxRetries+1, attempts)
	})

	t.Run("value", func(t *testing.T) {
		v, err := RetryValue(context.Background(), func() (int, error) { return 42, nil })
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})
}

func TestMap(t *testing.T) {
	var m Map
	assert.False(t, m.HasErrors())
	assert.Empty(t, m.Error())

	m.Title = "scan errors"
	m.Add("/b", WrapKind("/b", KindPermissionDenied, fs.ErrPermission))
	m.Add("/a", errors.New("boom"))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, map[string]Kind{"/a": KindOther, "/b": KindPermissionDenied}, m.Kinds())
	assert.Regexp(t, `(?s)^scan errors:\n/a: boom\n/b: `, m.Error())
	assert.ErrorIs(t, &m, ErrPermissionDenied)
	assert.NotErrorIs(t, &m, ErrPathVanished)
}
