package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/nats-client-go/nats"
	"golang.org/x/sync/errgroup"
)

func runPublish(ctx context.Context, env *environment, args []string) error {
	flagSet := flag.NewFlagSet("pub", flag.ContinueOnError)
	count := flagSet.Int("count", 1, "number of messages")
	reply := flagSet.String("reply", "", "reply subject")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := expectArgs(flagSet.Args(), 2, "pub [-count n] [-reply subject] <subject> <payload>"); err != nil {
		return err
	}
	subject, payload := flagSet.Arg(0), []byte(flagSet.Arg(1))

	client, err := env.connect(env.cfg.Client.Name, nil)
	if err != nil {
		return err
	}
	defer client.Stop()

	var options []nats.PublishOption
	if *reply != "" {
		options = append(options, nats.WithReplyTo(*reply))
	}
	for index := 0; index < *count; index++ {
		if err := client.Publish(subject, payload, options...); err != nil {
			return err
		}
	}
	if err := env.flush(ctx, client); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "published %d message(s) to %s\n", *count, subject)
	return nil
}

func runSubscribe(ctx context.Context, env *environment, args []string) error {
	flagSet := flag.NewFlagSet("sub", flag.ContinueOnError)
	queue := flagSet.String("queue", "", "queue group")
	limit := flagSet.Int("max", 0, "exit after this many messages (0 waits for a signal)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := expectArgs(flagSet.Args(), 1, "sub [-queue group] [-max n] <subject>"); err != nil {
		return err
	}

	errs := make(chan error, 16)
	client, err := env.connect(env.cfg.Client.Name, errs)
	if err != nil {
		return err
	}
	defer client.Stop()

	messages := make(chan *nats.Message, 1024)
	options := []nats.SubscribeOption{nats.WithMax(*limit)}
	if *queue != "" {
		options = append(options, nats.WithQueue(*queue))
	}
	if _, err := client.Subscribe(flagSet.Arg(0), func(message *nats.Message) {
		select {
		case messages <- message:
		case <-ctx.Done():
		}
	}, options...); err != nil {
		return err
	}
	if err := env.flush(ctx, client); err != nil {
		return err
	}

	received := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errs:
			if nats.ErrorCode(err) == nats.ReconnectFailedError {
				return err
			}
			env.log.Warn("client error", "error", err)
		case message := <-messages:
			received++
			if message.Reply != "" {
				fmt.Fprintf(env.stdout, "[#%d] %s (reply %s): %s\n", received, message.Subject, message.Reply, message.Data)
			} else {
				fmt.Fprintf(env.stdout, "[#%d] %s: %s\n", received, message.Subject, message.Data)
			}
			if *limit > 0 && received >= *limit {
				return nil
			}
		}
	}
}

func runRequest(ctx context.Context, env *environment, args []string) error {
	if err := expectArgs(args, 2, "req <subject> <payload>"); err != nil {
		return err
	}

	client, err := env.connect(env.cfg.Client.Name, nil)
	if err != nil {
		return err
	}
	defer client.Stop()

	ctx, cancel := context.WithTimeout(ctx, env.timeout)
	defer cancel()
	started := time.Now()
	reply, err := client.RequestContext(ctx, args[0], []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "reply from %s in %s: %s\n", args[0], time.Since(started).Round(time.Microsecond), reply.Data)
	return nil
}

// runBench publishes from several goroutines through one client and counts
// deliveries on a second client.
func runBench(ctx context.Context, env *environment, args []string) error {
	flagSet := flag.NewFlagSet("bench", flag.ContinueOnError)
	messages := flagSet.Int("msgs", 100000, "messages per publisher")
	size := flagSet.Int("size", 128, "payload size in bytes")
	publishers := flagSet.Int("pubs", 1, "concurrent publishers")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := expectArgs(flagSet.Args(), 1, "bench [-msgs n] [-size bytes] [-pubs n] <subject>"); err != nil {
		return err
	}
	if *messages < 1 || *publishers < 1 || *size < 0 {
		return fmt.Errorf("bench needs positive -msgs and -pubs and a non-negative -size")
	}
	subject := flagSet.Arg(0)
	total := int64(*messages) * int64(*publishers)

	subscriber, err := env.connect(env.cfg.Client.Name+"-sub", nil)
	if err != nil {
		return err
	}
	defer subscriber.Stop()
	publisher, err := env.connect(env.cfg.Client.Name+"-pub", nil)
	if err != nil {
		return err
	}
	defer publisher.Stop()

	var received atomic.Int64
	done := make(chan struct{})
	if _, err := subscriber.Subscribe(subject, func(*nats.Message) {
		if received.Add(1) == total {
			close(done)
		}
	}); err != nil {
		return err
	}
	if err := env.flush(ctx, subscriber); err != nil {
		return err
	}

	payload := bytes.Repeat([]byte{'x'}, *size)
	started := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)
	for range *publishers {
		group.Go(func() error {
			for index := 0; index < *messages; index++ {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				if err := publisher.Publish(subject, payload); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(env.timeout + time.Duration(total/1000)*time.Millisecond):
		return fmt.Errorf("received %d of %d messages before timing out", received.Load(), total)
	}

	elapsed := time.Since(started)
	rate := float64(total) / elapsed.Seconds()
	fmt.Fprintf(env.stdout, "%d messages of %d bytes in %s: %.0f msgs/sec, %.2f MB/sec\n",
		total, *size, elapsed.Round(time.Millisecond), rate, rate*float64(*size)/(1024*1024))
	return nil
}
