// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	defer func(pre, build string) {
		PreRelease, BuildMetadata = pre, build
	}(PreRelease, BuildMetadata)

	tests := []struct {
		pre, build string
		want       string
	}{
		{"", "", "0.3.0"},
		{"beta", "", "0.3.0-beta"},
		{"beta", "abc.12", "0.3.0-beta+abc.12"},
		{"be.ta", "a_b", "0.3.0-beta+ab"},
		{"$$", "", "0.3.0"},
	}
	for _, test := range tests {
		PreRelease, BuildMetadata = test.pre, test.build
		require.Equal(t, test.want, String())
	}
}
