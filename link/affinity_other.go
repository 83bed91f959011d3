// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package link

import "fmt"

func setAffinity(cpu int) error {
	return fmt.Errorf("cpu affinity not supported on this platform")
}
