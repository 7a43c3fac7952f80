// Command worker is a demo RSA-operation backend: it listens on a UDP
// socket and answers every request with the accel.Loopback fake
// accelerator's result, standing in for a real worker built on the
// out-of-scope accel_bn/accel_gmp/accel_ipp backends. Its purpose is to
// give cmd/dispatcherd and cmd/benchsim something to dial against for
// local testing and demos, per spec.md §8 scenario 6.
package main

import (
	"flag"
	"log"
	"net"

	"go.uber.org/zap"

	"github.com/PayRpc/accessl-dispatch/internal/accel"
	"github.com/PayRpc/accessl-dispatch/internal/wire"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:9001", "UDP address to listen on")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	conn, err := net.ListenPacket("udp4", *addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", *addr), zap.Error(err))
	}
	defer conn.Close()

	logger.Info("worker listening", zap.String("addr", *addr))

	backend := accel.NewLoopback()
	buf := make([]byte, wire.MaxDatagramBytes)

	for {
		n, src, err := conn.ReadFrom(buf)
		if err != nil {
			logger.Warn("read failed", zap.Error(err))
			continue
		}

		req, err := wire.Decode(buf[:n])
		if err != nil {
			logger.Warn("dropping malformed request", zap.Error(err))
			continue
		}

		reply, err := backend.Perform(0, req.Op, req.Padding, req.Plaintext)
		if err != nil {
			logger.Warn("perform failed", zap.Error(err))
			continue
		}

		if _, err := conn.WriteTo(reply, src); err != nil {
			logger.Warn("write failed", zap.Error(err))
		}
	}
}
