// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 brokerauth

package gatekeeper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFanPool(t *testing.T) {
	f := NewFanPool(1, 2)
	require.NotNil(t, f)
	require.Equal(t, uint64(1), f.capacity)
	require.Equal(t, 2, cap(f.queue[0]))

	o := make(chan bool)
	go func() {
		f.Enqueue("test", func() {
			o <- true
		})
	}()

	require.True(t, <-o)
	f.Close()
	f.Wait()
}

func TestFillWorkers(t *testing.T) {
	f := &FanPool{
		perChan: 3,
		queue:   make([]taskChan, 2),
	}
	f.fillWorkers(2)
	require.Len(t, f.queue, 2)
	require.Equal(t, 3, cap(f.queue[0]))
}

func TestEnqueue(t *testing.T) {
	f := &FanPool{
		capacity: 2,
		queue: []taskChan{
			make(taskChan, 2),
			make(taskChan, 2),
		},
	}

	go func() {
		f.Enqueue("a", func() {})
	}()
	require.NotNil(t, <-f.queue[1])
}

func TestEnqueueOnEmpty(t *testing.T) {
	f := &FanPool{
		queue: []taskChan{},
	}
	f.Enqueue("a", func() {})
}

func TestEnqueueKeepsKeyOrder(t *testing.T) {
	f := NewFanPool(4, 16)

	var got []int
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		i := i
		f.Enqueue("owner-1", func() {
			got = append(got, i)
			if i == 9 {
				done <- true
			}
		})
	}

	require.True(t, <-done)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	f.Close()
	f.Wait()
}

func TestFanPoolClose(t *testing.T) {
	f := NewFanPool(2, 4)
	f.Close()
	require.Nil(t, f.queue)
	require.Equal(t, uint64(0), f.Size())
	f.Wait()
}
