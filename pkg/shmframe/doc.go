// Package shmframe shares a stream of fixed-shape image frames between one
// producer process and any number of reader processes on the same host.
//
// A block is a file in a tmpfs directory (default /dev/shm) mapped by every
// participant. It holds a small control header followed by SlotCount frame
// slots. The producer copies each frame into the next slot under a
// cross-process futex lock and bumps a notification word; readers take a
// zero-copy view of the slot, validated by a per-slot sequence counter, and
// sleep on the notification word when there is nothing new.
//
// The header records the owner's pid and process start time. A reader
// blocked on a block whose owner died wakes within the liveness interval
// and gets StatusBlockNotActive, and a new Producer for the same name
// scraps the poisoned block and recreates it. Consumer wraps the reader
// side with the matching open-retry loop.
//
//	p := shmframe.NewProducer("cam0")
//	defer p.Close()
//	err := p.Write(640, 480, 3, uint64(time.Now().UnixNano()), pixels)
//
//	c := shmframe.NewConsumer("cam0")
//	defer c.Close()
//	frame, err := c.Next(ctx, true)
//
// Creating the same name from two producers at once is not arbitrated; run
// one producer per name.
package shmframe
