// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command exocore-sim boots the frame, heap, stack, scheduler, and IPC
// ring subsystems from a TOML config (with optional .env overrides) and
// runs two scenarios end to end: an inline ping-pong between a scheduled
// thread and the main goroutine over a blocking ring (8 rounds), and a
// 4096-byte zero-copy transfer through the shared mapping table (the
// receiver checks the mapped length, not the bytes). It is the only place in this module
// that imports the config package, per §6's "no environment variable is
// part of the core" boundary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"code.hybscloud.com/exocore/arch"
	"code.hybscloud.com/exocore/config"
	"code.hybscloud.com/exocore/frame"
	"code.hybscloud.com/exocore/heap"
	"code.hybscloud.com/exocore/logging"
	"code.hybscloud.com/exocore/ring"
	"code.hybscloud.com/exocore/sched"
)

func main() {
	cfgPath := flag.String("config", "", "path to a TOML config file (optional)")
	envPath := flag.String("env", ".env", "path to a dotenv file of EXOCORE_* overrides (optional)")
	level := flag.String("log-level", "info", "debug|info|warn|error")
	flag.Parse()

	log := logging.NewLogger(&logging.Config{Level: parseLevel(*level), Output: os.Stdout})
	logging.SetDefault(log)

	if err := config.LoadDotenv(*envPath); err != nil {
		log.Warn("dotenv load failed", "path", *envPath, "err", err)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Error("config load failed", "path", *cfgPath, "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnvOverrides()

	log.Info("booting exocore-sim", "cpus", cfg.Scheduler.CPUCount, "heap_bytes", cfg.Heap.RegionBytes, "ring_capacity", cfg.Ring.Capacity)

	frames := frame.New(0, uint64(cfg.Heap.RegionBytes)/frame.Size)
	physMem := make([]byte, frames.Stats().TotalFrames*frame.Size)
	log.Info("frame allocator ready", "total_frames", frames.Stats().TotalFrames)

	region := make([]byte, cfg.Heap.RegionBytes)
	ctl := arch.NewSoftInterruptController()
	h := heap.New(region, cfg.Scheduler.CPUCount, ctl)

	cpu := arch.NewSoftCPU(cfg.Scheduler.CPUCount)
	clk := arch.NewWallClock()
	s := sched.New(sched.Config{
		CPUCount:             cfg.Scheduler.CPUCount,
		MaxThreads:           cfg.Scheduler.MaxThreads,
		PendingQueueCapacity: cfg.Ring.Capacity,
		KernelStackBase:      0x7f0000000000,
		CPU:                  cpu,
		Clock:                clk,
		Logger:               log,
	})

	if err := runPingPong(s, cfg.Ring.Capacity, log); err != nil {
		log.Error("ping-pong scenario failed", "err", err)
		os.Exit(1)
	}
	if err := runZeroCopyTransfer(h, frames, physMem, cfg.Ring.Capacity, log); err != nil {
		log.Error("zero-copy scenario failed", "err", err)
		os.Exit(1)
	}

	fmt.Println("exocore-sim: all scenarios completed")
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// runPingPong spawns a ponger thread that echoes every inline message it
// receives back incremented by one, and a pinger goroutine driving N
// rounds, exercising sched.Scheduler as ring.Scheduler's blocking path.
func runPingPong(s *sched.Scheduler, ringCapacity int, log *logging.Logger) error {
	pingRing := ring.New(ringCapacity, s)
	pongRing := ring.New(ringCapacity, s)
	defer pingRing.Close()
	defer pongRing.Close()

	const rounds = 8
	done := make(chan error, 1)

	_, err := s.Spawn(sched.DefaultNormal(), func(id sched.ThreadID) {
		ctx := context.Background()
		buf := make([]byte, ring.MaxInlinePayload)
		for i := 0; i < rounds; i++ {
			n, _, err := pingRing.RecvInline(ctx, buf)
			if err != nil {
				done <- err
				return
			}
			v := decodeU32(buf[:n]) + 1
			if err := pongRing.SendInline(ctx, encodeU32(v), 0); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}, 0)
	if err != nil {
		return err
	}

	ctx := context.Background()
	buf := make([]byte, ring.MaxInlinePayload)
	for i := 0; i < rounds; i++ {
		if err := pingRing.SendInline(ctx, encodeU32(uint32(i)), 0); err != nil {
			return err
		}
		n, _, err := pongRing.RecvInline(ctx, buf)
		if err != nil {
			return err
		}
		got := decodeU32(buf[:n])
		log.Debug("ping-pong round", "sent", i, "echoed", got)
		if got != uint32(i)+1 {
			return fmt.Errorf("round %d: expected echo %d, got %d", i, i+1, got)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("ponger thread never finished")
	}
	log.Info("ping-pong scenario complete", "rounds", rounds)
	return nil
}

// runZeroCopyTransfer allocates a small payload through the heap (to
// exercise tier routing) and a separate zero-copy buffer backed by the
// frame allocator's physical frames, then transfers the latter across a
// ring without copying its backing bytes.
func runZeroCopyTransfer(h *heap.LockedHeap, frames *frame.Allocator, physMem []byte, ringCapacity int, log *logging.Logger) error {
	const payloadSize = 4096
	off, err := h.Allocate(0, 0, payloadSize, 16)
	if err != nil {
		return err
	}
	defer h.Deallocate(0, 0, off, payloadSize, 16)

	table := ring.NewMappingTableWithFrames(frames, physMem)
	r := ring.New(ringCapacity, nil)
	defer r.Close()

	id, buf, err := table.Allocate(payloadSize)
	if err != nil {
		return err
	}
	for i := range buf {
		buf[i] = byte(i)
	}

	if err := r.TrySendZeroCopy(id, payloadSize); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	gotID, gotSize, err := r.RecvZeroCopy(ctx)
	if err != nil {
		return err
	}
	mapped, err := table.Map(gotID)
	if err != nil {
		return err
	}
	if uint64(len(mapped)) < gotSize {
		return fmt.Errorf("mapped region shorter than advertised size")
	}
	if err := table.Unmap(gotID); err != nil {
		return err
	}

	log.Info("zero-copy scenario complete", "heap_offset", off, "mapping_id", gotID, "size", gotSize,
		"frames_free", frames.Stats().FreeFrames, "frames_total", frames.Stats().TotalFrames)
	return nil
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func decodeU32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
