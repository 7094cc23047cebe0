package services

import (
	"testing"
	"time"
)

func TestDedupeKeyIgnoresOrder(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 22, 7, 0, time.UTC)
	a := DedupeKey("123", []string{"s1", "s2", "s3"}, []string{"r1", "r2"}, at)
	b := DedupeKey("123", []string{"s3", "s1", "s2"}, []string{"r2", "r1"}, at)
	if a != b {
		t.Fatalf("key should be order independent: %s vs %s", a, b)
	}
}

func TestDedupeKeyHourBucket(t *testing.T) {
	base := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	early := DedupeKey("123", []string{"s1"}, []string{"r1"}, base.Add(5*time.Minute))
	late := DedupeKey("123", []string{"s1"}, []string{"r1"}, base.Add(55*time.Minute))
	if early != late {
		t.Fatal("same hour should produce the same key")
	}
	nextHour := DedupeKey("123", []string{"s1"}, []string{"r1"}, base.Add(65*time.Minute))
	if early == nextHour {
		t.Fatal("next hour should produce a fresh key")
	}
}

func TestDedupeKeyVariesByInputs(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)
	base := DedupeKey("123", []string{"s1"}, []string{"r1"}, at)
	if base == DedupeKey("456", []string{"s1"}, []string{"r1"}, at) {
		t.Fatal("account id must affect the key")
	}
	if base == DedupeKey("123", []string{"s2"}, []string{"r1"}, at) {
		t.Fatal("status ids must affect the key")
	}
	if base == DedupeKey("123", []string{"s1"}, []string{"r2"}, at) {
		t.Fatal("rule ids must affect the key")
	}
}

func TestRetryDelayBackoff(t *testing.T) {
	s := &reporterService{
		retryBase: 300 * time.Second,
		retryMax:  21600 * time.Second,
	}
	cases := []struct {
		count int
		want  time.Duration
	}{
		{0, 300 * time.Second},
		{1, 600 * time.Second},
		{2, 1200 * time.Second},
		{3, 2400 * time.Second},
		{10, 21600 * time.Second},
		{100, 21600 * time.Second},
	}
	for _, tc := range cases {
		if got := s.retryDelay(tc.count); got != tc.want {
			t.Errorf("retryDelay(%d) = %s, want %s", tc.count, got, tc.want)
		}
	}
}
