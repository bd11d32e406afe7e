package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "cronhost/pkg/logx"
)

func sampleRuns() []Run {
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	out := make([]Run, 0, 5)
	for i := 0; i < 5; i++ {
		job := "backup"
		if i%2 == 1 {
			job = "report"
		}
		r := Run{
			ID:       fmt.Sprintf("run-%d", i),
			Host:     "h",
			Job:      job,
			Kind:     "recurring",
			Started:  base.Add(time.Duration(i) * time.Minute),
			Finished: base.Add(time.Duration(i)*time.Minute + 2*time.Second),
			Duration: 2 * time.Second,
			OK:       i != 2,
		}
		if !r.OK {
			r.Error = "exit status 1"
		}
		out = append(out, r)
	}
	return out
}

func TestStores(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "journal.db")}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			for _, r := range sampleRuns() {
				require.NoError(t, st.AppendRun(ctx, r))
			}

			all, err := st.RecentRuns(ctx, "", 3)
			require.NoError(t, err)
			require.Len(t, all, 3)
			require.Equal(t, []string{"run-4", "run-3", "run-2"}, []string{all[0].ID, all[1].ID, all[2].ID})
			require.False(t, all[2].OK)
			require.Equal(t, "exit status 1", all[2].Error)
			require.Equal(t, 2*time.Second, all[2].Duration)
			require.True(t, all[0].Started.Equal(sampleRuns()[4].Started))

			backups, err := st.RecentRuns(ctx, "backup", 10)
			require.NoError(t, err)
			require.Len(t, backups, 3)
			require.Equal(t, "run-4", backups[0].ID)
			require.Equal(t, "run-0", backups[2].ID)

			none, err := st.RecentRuns(ctx, "backup", 0)
			require.NoError(t, err)
			require.Empty(t, none)
		})
	}
}

func TestOpenDisabledAndUnknown(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	require.Nil(t, st)

	_, err = Open(Config{Driver: "mongo", Path: "x"}, logx.Nop())
	require.ErrorContains(t, err, "unknown storage driver")
}

func TestFileStoreClosed(t *testing.T) {
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j")}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Close())
	require.ErrorIs(t, st.AppendRun(context.Background(), Run{ID: "x"}), ErrDisabled)
	require.NoError(t, st.Close())
}
