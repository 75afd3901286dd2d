package adsb

import "testing"

// TestDecodeCPRKnownVectors uses the widely-cited even/odd CPR frame pair
// from the ADS-B decoding literature (Junzi Sun's pyModeS worked example)
// to check the closed-form global decode against its known answer. In that
// example the even frame is the more recent one.
func TestDecodeCPRKnownVectors(t *testing.T) {
	const evenLat, evenLon = 93000, 51372
	const oddLat, oddLon = 74158, 50194

	lat, lon, ok := DecodeCPR(evenLat, evenLon, oddLat, oddLon, false)
	if !ok {
		t.Fatal("expected successful decode")
	}

	if diff := lat - 52.25720; diff > 0.01 || diff < -0.01 {
		t.Fatalf("lat = %v, want ~52.2572", lat)
	}
	if diff := lon - 3.91937; diff > 0.01 || diff < -0.01 {
		t.Fatalf("lon = %v, want ~3.91937", lon)
	}
}

func TestDecodeCPRMismatchedNLRejected(t *testing.T) {
	// Frames whose latitude zones disagree can't be resolved into a single
	// global position and must report ok=false, not a garbage answer.
	_, _, ok := DecodeCPR(0, 0, 131071, 131071, false)
	if ok {
		t.Fatal("expected mismatched-zone CPR pair to be rejected")
	}
}
