// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package buffer

import (
	"fmt"
	"sync/atomic"
)

// View references a leased buffer. Its Bytes are valid until Release was called.
type View struct {
	slot   *slot
	length int

	// done is set on Release or Transfer to catch a second release of the same View.
	done atomic.Bool
}

// Bytes returns the used part of the buffer.
func (view *View) Bytes() []byte {
	return view.slot.data[:view.length]
}

// Raw returns the whole buffer, e.g., to receive into.
func (view *View) Raw() []byte {
	return view.slot.data
}

// Len of the used part of the buffer.
func (view *View) Len() int {
	return view.length
}

// SetLen of the used part after writing into Raw.
func (view *View) SetLen(n int) {
	if n < 0 || n > len(view.slot.data) {
		panic(fmt.Sprintf("buffer: length %d out of range", n))
	}
	view.length = n
}

// Share this buffer with another owner. The returned View must be released independently.
func (view *View) Share() *View {
	if view.done.Load() {
		panic("buffer: share of a released view")
	}

	view.slot.refs.Add(1)
	return &View{slot: view.slot, length: view.length}
}

// Transfer the ownership to a new View without touching the reference count. This View must not be used afterwards.
func (view *View) Transfer() *View {
	if !view.done.CompareAndSwap(false, true) {
		panic("buffer: transfer of a released view")
	}

	return &View{slot: view.slot, length: view.length}
}

// Release this View. The buffer is returned to its Pool after releasing the last View.
func (view *View) Release() {
	if !view.done.CompareAndSwap(false, true) {
		panic("buffer: view released twice")
	}

	switch refs := view.slot.refs.Add(-1); {
	case refs == 0:
		view.slot.pool.giveBack(view.slot)
	case refs < 0:
		panic("buffer: negative reference count")
	}
}

// References currently held on the underlying buffer.
func (view *View) References() int32 {
	return view.slot.refs.Load()
}

func (view *View) String() string {
	return fmt.Sprintf("View(len: %d, refs: %d)", view.length, view.References())
}
