// Package harness runs YAML scenarios against a real engine.
//
// Each scenario gets a fresh home directory, a step clock starting at
// testutil.Epoch and reaction ids r-0001, r-0002, ... so the resulting
// ledger is identical on every run. Steps submit candidates, move the
// clock, run the decay sweep, checkpoint, or reopen the engine (optionally
// after cutting bytes from the ledger tail to simulate a crash).
//
// A scenario file looks like:
//
//	name: fingerprint-mismatch
//	description: two hashes for one locator within the window conflict
//	steps:
//	  - candidate:
//	      event_id: e-seen
//	      kind: ARTIFACT_SEEN
//	      payload: {artifact_id: A1, locator: /srv/app.conf}
//	  - candidate:
//	      event_id: e-fp1
//	      at: 1m
//	      kind: FINGERPRINT_COMPUTED
//	      payload: {artifact_id: A1, content_hash: H1}
//	expect:
//	  head: 4
//
// Run reports mismatches in Result.Errors. RunWithGolden additionally
// compares Result.Golden against testdata/golden/<name>.golden.
package harness
