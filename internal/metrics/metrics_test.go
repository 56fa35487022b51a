// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSourceRequest(t *testing.T) {
	before := testutil.ToFloat64(SourceRequests.WithLabelValues("places_test", "success"))

	RecordSourceRequest("places_test", "success", 50*time.Millisecond, 12)

	after := testutil.ToFloat64(SourceRequests.WithLabelValues("places_test", "success"))
	if after != before+1 {
		t.Errorf("success counter = %f, want %f", after, before+1)
	}
}

func TestRecordStoreOpError(t *testing.T) {
	before := testutil.ToFloat64(StoreOpErrors.WithLabelValues("save_test"))

	RecordStoreOp("save_test", time.Millisecond, errors.New("boom"))
	RecordStoreOp("save_test", time.Millisecond, nil)

	after := testutil.ToFloat64(StoreOpErrors.WithLabelValues("save_test"))
	if after != before+1 {
		t.Errorf("error counter = %f, want %f (nil error must not count)", after, before+1)
	}
}

func TestRecordRecommendationEmpty(t *testing.T) {
	before := testutil.ToFloat64(RecommendationsEmpty)

	RecordRecommendation(false, 10*time.Millisecond, 0)
	RecordRecommendation(true, time.Millisecond, 5)

	after := testutil.ToFloat64(RecommendationsEmpty)
	if after != before+1 {
		t.Errorf("empty counter = %f, want %f", after, before+1)
	}
}
