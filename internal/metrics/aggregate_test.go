package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleAggregates() (Aggregate, Aggregate, Aggregate) {
	a := ForStatement(Statement{
		DurationSec:      1.5,
		MemoryGB:         2,
		AdmissionWaitSec: 0.25,
		InputBytes:       100,
		OutputBytes:      10,
		FileFormats:      []string{"PARQUET"},
		ResourcePool:     "root.etl",
		User:             "alice",
	})
	b := ForStatement(Statement{
		DurationSec:      4,
		MemoryGB:         0.5,
		AdmissionWaitSec: 1,
		InputBytes:       50,
		OutputBytes:      500,
		FileFormats:      []string{"TEXT", "PARQUET"},
		ResourcePool:     "root.adhoc",
		User:             "bob",
	})
	c := ForStatement(Statement{
		DurationSec: 0.5,
		MemoryGB:    8,
		InputBytes:  7,
		User:        "alice",
	})
	return a, b, c
}

func TestAggregate_RecordStatement(t *testing.T) {
	var agg Aggregate
	agg.RecordStatement(Statement{DurationSec: 2, MemoryGB: 1, AdmissionWaitSec: 0.5, InputBytes: 10, OutputBytes: 20,
		FileFormats: []string{"PARQUET", "TEXT"}, ResourcePool: "root.a", User: "u1"})
	agg.RecordStatement(Statement{DurationSec: 3, MemoryGB: 4, AdmissionWaitSec: 0.25, InputBytes: 5, OutputBytes: 40,
		FileFormats: []string{"AVRO"}, User: "u2"})

	assert.Equal(t, 4.0, agg.MaxMemoryGB)
	assert.Equal(t, 5.0, agg.TotalDurationSec)
	assert.Equal(t, 3.0, agg.MaxDurationSec)
	assert.Equal(t, 0.75, agg.TotalAdmissionWaitSec)
	assert.Equal(t, 0.5, agg.MaxAdmissionWaitSec)
	assert.Equal(t, int64(15), agg.TotalInputBytes)
	assert.Equal(t, int64(10), agg.MaxInputBytes)
	assert.Equal(t, int64(60), agg.TotalOutputBytes)
	assert.Equal(t, int64(40), agg.MaxOutputBytes)
	assert.Equal(t, []string{"AVRO", "PARQUET", "TEXT"}, agg.FileFormats)
	assert.Equal(t, []string{"root.a"}, agg.ResourcePools)
	assert.Equal(t, []string{"u1", "u2"}, agg.Users)
}

func TestAggregate_EmptyStatementKeepsZero(t *testing.T) {
	agg := ForStatement(Statement{})
	assert.True(t, agg.IsZero())
	assert.Nil(t, agg.FileFormats)
	assert.Nil(t, agg.ResourcePools)
	assert.Nil(t, agg.Users)
}

func TestAggregate_MergeCommutative(t *testing.T) {
	a, b, _ := sampleAggregates()
	assert.Equal(t, Merged(a, b), Merged(b, a))
}

func TestAggregate_MergeAssociative(t *testing.T) {
	a, b, c := sampleAggregates()
	left := Merged(Merged(a, b), c)
	right := Merged(a, Merged(b, c))
	assert.Equal(t, left, right)

	assert.Equal(t, 8.0, left.MaxMemoryGB)
	assert.Equal(t, 6.0, left.TotalDurationSec)
	assert.Equal(t, int64(157), left.TotalInputBytes)
	assert.Equal(t, []string{"alice", "bob"}, left.Users)
	assert.Equal(t, []string{"root.adhoc", "root.etl"}, left.ResourcePools)
}

func TestAggregate_MergeWithZero(t *testing.T) {
	a, _, _ := sampleAggregates()
	assert.Equal(t, a, Merged(a, Aggregate{}))
	assert.Equal(t, a, Merged(Aggregate{}, a))
}

func TestAggregate_MergeCountsEachInputOnce(t *testing.T) {
	a, _, _ := sampleAggregates()
	twice := Merged(a, a)
	assert.Equal(t, 3.0, twice.TotalDurationSec)
	assert.Equal(t, a.MaxDurationSec, twice.MaxDurationSec)
	assert.Equal(t, a.Users, twice.Users)
}

func TestAggregate_MergedDoesNotAlias(t *testing.T) {
	a, b, _ := sampleAggregates()
	before := a.Clone()
	m := Merged(a, b)
	m.Users[0] = "mutated"
	assert.Equal(t, before, a)
}
