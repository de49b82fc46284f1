package postgresql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsWithDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{
			name: "zero value",
			want: Options{MaxOpenConns: 25, MaxIdleConns: 0, ConnMaxLifetime: time.Hour, SlowQuery: 200 * time.Millisecond},
		},
		{
			name: "idle above open is capped",
			in:   Options{MaxOpenConns: 4, MaxIdleConns: 10, ConnMaxLifetime: time.Minute, SlowQuery: time.Second},
			want: Options{MaxOpenConns: 4, MaxIdleConns: 4, ConnMaxLifetime: time.Minute, SlowQuery: time.Second},
		},
		{
			name: "explicit values kept",
			in:   Options{DSN: "host=db", MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute, SlowQuery: 50 * time.Millisecond},
			want: Options{DSN: "host=db", MaxOpenConns: 10, MaxIdleConns: 2, ConnMaxLifetime: 30 * time.Minute, SlowQuery: 50 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}

func TestGormConfig(t *testing.T) {
	t.Parallel()

	cfg := GormConfig(time.Second)
	assert.True(t, cfg.SkipDefaultTransaction)
	assert.Equal(t, time.UTC, cfg.NowFunc().Location())
	assert.NotNil(t, cfg.Logger)
}
