package main

import "testing"

func TestValidateFlags(t *testing.T) {
	cases := []struct {
		name                                     string
		concurrency, requests, perTxn, resources int
		ok                                       bool
	}{
		{"defaults", 50, 10000, 2, 16, true},
		{"single client", 1, 1, 1, 1, true},
		{"zero clients", 0, 10000, 2, 16, false},
		{"negative clients", -1, 10000, 2, 16, false},
		{"fewer requests than clients", 10, 5, 2, 16, false},
		{"no resources", 1, 10, 1, 0, false},
		{"too many locks", 1, 10, 17, 16, false},
		{"zero locks", 1, 10, 0, 16, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateFlags(tc.concurrency, tc.requests, tc.perTxn, tc.resources)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
