// Command vapidgen prints a fresh VAPID key pair in .env form.
package main

import (
	"fmt"
	"os"

	"devconnect/logger"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	subscriber := pflag.StringP("subscriber", "s", "mailto:admin@devconnect.app", "contact URI sent to push services")
	out := pflag.StringP("out", "o", "", "append the keys to this file instead of printing them")
	pflag.Parse()

	if err := logger.Init("development"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		logger.Fatal("generate VAPID keys", zap.Error(err))
	}
	lines := fmt.Sprintf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\nVAPID_SUBSCRIBER=%s\n", publicKey, privateKey, *subscriber)

	if *out == "" {
		fmt.Print(lines)
		return
	}
	f, err := os.OpenFile(*out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		logger.Fatal("open env file", zap.String("path", *out), zap.Error(err))
	}
	defer f.Close()
	if _, err := f.WriteString(lines); err != nil {
		logger.Error("write env file", zap.String("path", *out), zap.Error(err))
		return
	}
	logger.Info("VAPID keys written", zap.String("path", *out))
}
