package compliance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, seq func(func([]string, error) bool)) ([][]string, error) {
	t.Helper()
	var pages [][]string
	for page, err := range seq {
		if err != nil {
			return pages, err
		}
		pages = append(pages, page)
	}
	return pages, nil
}

func TestSnapshots_FiltersResourceType(t *testing.T) {
	src := StaticSource{Pages: [][]Result{
		{
			{ResourceID: "snap-1", ResourceType: ResourceTypeDBSnapshot},
			{ResourceID: "db-1", ResourceType: "AWS::RDS::DBInstance"},
		},
		{
			{ResourceID: "vol-1", ResourceType: "AWS::EC2::Volume"},
		},
		{
			{ResourceID: "snap-2", ResourceType: ResourceTypeDBSnapshot},
			{ResourceID: "", ResourceType: ResourceTypeDBSnapshot},
		},
	}}

	pages, err := collect(t, Snapshots(context.Background(), src, "rule"))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"snap-1"}, {"snap-2"}}, pages)
}

func TestSnapshots_StopsOnError(t *testing.T) {
	boom := errors.New("throttled")
	src := StaticSource{
		Pages: [][]Result{{{ResourceID: "snap-1", ResourceType: ResourceTypeDBSnapshot}}},
		Err:   boom,
	}

	pages, err := collect(t, Snapshots(context.Background(), src, "rule"))

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, [][]string{{"snap-1"}}, pages)
}

func TestSnapshots_EarlyBreak(t *testing.T) {
	src := StaticSource{Pages: [][]Result{
		{{ResourceID: "snap-1", ResourceType: ResourceTypeDBSnapshot}},
		{{ResourceID: "snap-2", ResourceType: ResourceTypeDBSnapshot}},
	}}

	var seen []string
	for page, err := range Snapshots(context.Background(), src, "rule") {
		require.NoError(t, err)
		seen = append(seen, page...)
		break
	}

	assert.Equal(t, []string{"snap-1"}, seen)
}

func TestStaticSource_Restartable(t *testing.T) {
	src := StaticSource{Pages: [][]Result{
		{{ResourceID: "snap-1", ResourceType: ResourceTypeDBSnapshot}},
	}}

	first, err := collect(t, Snapshots(context.Background(), src, "rule"))
	require.NoError(t, err)
	second, err := collect(t, Snapshots(context.Background(), src, "rule"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestStaticSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := StaticSource{Pages: [][]Result{
		{{ResourceID: "snap-1", ResourceType: ResourceTypeDBSnapshot}},
	}}

	_, err := collect(t, Snapshots(ctx, src, "rule"))

	assert.ErrorIs(t, err, context.Canceled)
}
