package usage

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thannaske/storageusage/pkg/models"
)

type fakeLister struct {
	objects []models.ObjectDescriptor
	err     error
	// errAfter yields err once this many objects have been produced
	errAfter int
	calls    int
	prefixes []string
}

func (l *fakeLister) ListObjects(ctx context.Context, prefix string) iter.Seq2[models.ObjectDescriptor, error] {
	l.calls++
	l.prefixes = append(l.prefixes, prefix)
	return func(yield func(models.ObjectDescriptor, error) bool) {
		for i, obj := range l.objects {
			if l.err != nil && i == l.errAfter {
				yield(models.ObjectDescriptor{}, l.err)
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
		if l.err != nil && l.errAfter >= len(l.objects) {
			yield(models.ObjectDescriptor{}, l.err)
		}
	}
}

type fakeMetrics struct {
	series []models.MetricSeriesEntry
	err    error
}

func (m *fakeMetrics) Metrics(ctx context.Context) ([]models.MetricSeriesEntry, error) {
	return m.series, m.err
}

func objects(sizes ...int64) []models.ObjectDescriptor {
	out := make([]models.ObjectDescriptor, 0, len(sizes))
	for i, size := range sizes {
		out = append(out, models.ObjectDescriptor{Key: string(rune('a' + i)), ContentLength: size})
	}
	return out
}

func series(name string, totals ...float64) models.MetricSeriesEntry {
	entry := models.MetricSeriesEntry{Name: name}
	for _, total := range totals {
		entry.DataPoints = append(entry.DataPoints, models.DataPoint{Total: total})
	}
	return entry
}

func TestObjectSizeMB(t *testing.T) {
	tests := []struct {
		name    string
		objects []models.ObjectDescriptor
		want    float64
	}{
		{name: "empty listing", objects: nil, want: 0},
		{name: "single object", objects: objects(1048576), want: 1},
		{name: "three folders", objects: objects(104857600, 209715200, 314572800), want: 600},
		{name: "order independent", objects: objects(314572800, 104857600, 209715200), want: 600},
		{name: "fractional megabytes", objects: objects(524288), want: 0.5},
		{name: "zero length objects", objects: objects(0, 0, 2097152), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &fakeLister{objects: tt.objects}
			got, err := ObjectSizeMB(context.Background(), lister, "folder/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"folder/"}, lister.prefixes)
		})
	}
}

func TestObjectSizeMBCountsDuplicates(t *testing.T) {
	dup := models.ObjectDescriptor{Key: "folder/a", ContentLength: 1048576}
	lister := &fakeLister{objects: []models.ObjectDescriptor{dup, dup}}

	got, err := ObjectSizeMB(context.Background(), lister, "folder/")
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestObjectSizeMBErrors(t *testing.T) {
	transport := errors.New("connection reset")

	t.Run("source failure mid listing", func(t *testing.T) {
		lister := &fakeLister{objects: objects(1, 2, 3), err: transport, errAfter: 2}
		_, err := ObjectSizeMB(context.Background(), lister, "folder/")
		require.Error(t, err)
		assert.True(t, ErrSource.Has(err))
		assert.ErrorIs(t, err, transport)
	})

	t.Run("source failure before first object", func(t *testing.T) {
		lister := &fakeLister{err: transport}
		_, err := ObjectSizeMB(context.Background(), lister, "folder/")
		require.Error(t, err)
		assert.True(t, ErrSource.Has(err))
	})

	t.Run("negative content length", func(t *testing.T) {
		lister := &fakeLister{objects: objects(10, -1)}
		_, err := ObjectSizeMB(context.Background(), lister, "folder/")
		require.Error(t, err)
		assert.True(t, ErrSource.Has(err))
	})

	t.Run("empty prefix", func(t *testing.T) {
		lister := &fakeLister{}
		_, err := ObjectSizeMB(context.Background(), lister, "")
		require.Error(t, err)
		assert.True(t, ErrConfig.Has(err))
		assert.Zero(t, lister.calls)
	})

	t.Run("nil lister", func(t *testing.T) {
		_, err := ObjectSizeMB(context.Background(), nil, "folder/")
		assert.True(t, ErrConfig.Has(err))
	})
}

func TestCDNUsageMB(t *testing.T) {
	tests := []struct {
		name   string
		series []models.MetricSeriesEntry
		want   float64
	}{
		{name: "no series", series: nil, want: 0},
		{
			name: "two matching series and one ignored",
			series: []models.MetricSeriesEntry{
				series("TotalBytes", 52428800),
				series("TotalBytes", 10485760),
				series("OtherMetric", 999999999),
			},
			want: 60,
		},
		{
			name:   "only the first data point counts",
			series: []models.MetricSeriesEntry{series("TotalBytes", 1048576, 1048576, 1048576)},
			want:   1,
		},
		{
			name:   "non matching series without data points are ignored",
			series: []models.MetricSeriesEntry{series("OtherMetric"), series("TotalBytes", 2097152)},
			want:   2,
		},
		{
			name:   "case sensitive match",
			series: []models.MetricSeriesEntry{series("totalbytes", 1048576)},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CDNUsageMB(context.Background(), &fakeMetrics{series: tt.series}, "TotalBytes")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCDNUsageMBErrors(t *testing.T) {
	t.Run("matching series without data points", func(t *testing.T) {
		source := &fakeMetrics{series: []models.MetricSeriesEntry{series("TotalBytes", 1), series("TotalBytes")}}
		got, err := CDNUsageMB(context.Background(), source, "TotalBytes")
		require.Error(t, err)
		assert.True(t, ErrMalformedSeries.Has(err))
		assert.Zero(t, got)
	})

	t.Run("negative total", func(t *testing.T) {
		source := &fakeMetrics{series: []models.MetricSeriesEntry{series("TotalBytes", -5)}}
		_, err := CDNUsageMB(context.Background(), source, "TotalBytes")
		assert.True(t, ErrMalformedSeries.Has(err))
	})

	t.Run("fetch failure", func(t *testing.T) {
		unauthorized := errors.New("401 unauthorized")
		_, err := CDNUsageMB(context.Background(), &fakeMetrics{err: unauthorized}, "TotalBytes")
		require.Error(t, err)
		assert.True(t, ErrSource.Has(err))
		assert.False(t, ErrMalformedSeries.Has(err))
		assert.ErrorIs(t, err, unauthorized)
	})

	t.Run("empty metric name", func(t *testing.T) {
		_, err := CDNUsageMB(context.Background(), &fakeMetrics{}, "")
		assert.True(t, ErrConfig.Has(err))
	})
}
