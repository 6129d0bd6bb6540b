// Command od4-dump joins an OD4 session and logs the image readings it
// receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kataras/golog"

	"github.com/thesyncim/av1enc/od4"
)

var logger = golog.Child("[od4-dump]")

func main() {
	var (
		cid    = flag.Uint("cid", 111, "OD4 session conference id")
		sender = flag.Int64("id", -1, "only show readings with this sender stamp")
	)
	flag.Parse()

	if *cid < 1 || *cid > 254 {
		fatal(fmt.Errorf("cid %d out of range [1, 254]", *cid))
	}
	session, err := od4.NewSession(uint16(*cid))
	if err != nil {
		fatal(err)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var readings, others int
	logger.Infof("listening on OD4 session %d", *cid)
	err = session.Listen(ctx, func(env od4.Envelope) {
		if *sender >= 0 && int64(env.SenderStamp) != *sender {
			return
		}
		if env.DataType != od4.ImageReadingID {
			others++
			logger.Debugf("data type %d from %d (%d bytes)", env.DataType, env.SenderStamp, len(env.SerializedData))
			return
		}
		var img od4.ImageReading
		if err := img.UnmarshalProto(env.SerializedData); err != nil {
			logger.Warnf("bad image reading from %d: %v", env.SenderStamp, err)
			return
		}
		readings++
		latency := env.Received.Sub(env.SampleTimeStamp)
		logger.Infof("%s %dx%d from %d: %d bytes, latency %v",
			img.FourCC, img.Width, img.Height, env.SenderStamp, len(img.Data), latency)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
	logger.Infof("%d image readings, %d other messages", readings, others)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[od4-dump]: %v\n", err)
	os.Exit(1)
}
