// Command i420-pattern creates a named shared memory area and fills it with
// an animated test pattern at a fixed frame rate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kataras/golog"

	"github.com/thesyncim/av1enc"
)

var logger = golog.Child("[i420-pattern]")

func main() {
	var (
		name    = flag.String("name", "video0.i420", "name of the shared memory area to create")
		dir     = flag.String("shm-dir", "", "directory holding shared memory areas (default /dev/shm)")
		width   = flag.Int("width", 640, "frame width")
		height  = flag.Int("height", 480, "frame height")
		fps     = flag.Int("fps", 30, "frames per second")
		pattern = flag.String("pattern", "bars", "bars, gradient, checkerboard, box or noise")
		frames  = flag.Int("frames", 0, "stop after this many frames; 0 runs until interrupted")
		verbose = flag.Bool("verbose", false, "log every frame")
	)
	flag.Parse()

	p, ok := av1enc.ParsePattern(*pattern)
	if !ok {
		fatal(fmt.Errorf("unknown pattern %q", *pattern))
	}
	if *fps <= 0 {
		fatal(fmt.Errorf("fps must be positive, got %d", *fps))
	}
	if *verbose {
		logger.SetLevel("debug")
	}

	producer, err := av1enc.CreateSharedMemory(*name, *dir, *width, *height)
	if err != nil {
		fatal(err)
	}
	defer producer.Close()
	logger.Infof("writing %s %dx%d at %d fps to %s", p, *width, *height, *fps, producer.Path())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := av1enc.NewPatternGenerator(*width, *height, p)
	buf := make([]byte, producer.Size())
	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()

	for i := 0; *frames == 0 || i < *frames; i++ {
		select {
		case <-ctx.Done():
			logger.Infof("interrupted after %d frames", i)
			return
		case <-ticker.C:
		}
		gen.Render(i, buf)
		if err := producer.WriteFrame(buf, time.Now()); err != nil {
			logger.Errorf("frame %d: %v", i, err)
			return
		}
		logger.Debugf("frame %d written", i)
	}
	logger.Infof("wrote %d frames", *frames)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[i420-pattern]: %v\n", err)
	os.Exit(1)
}
