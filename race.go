// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package jobq

// RaceEnabled is true when the race detector is active.
// Used by tests to skip checks that guard plain memory with atomix
// ordering, which the race detector does not model as synchronization.
const RaceEnabled = true
