package main

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	log "github.com/sirupsen/logrus"
	"go.docrelay.dev/core/capture"
	"go.docrelay.dev/core/mainboilerplate/runrelay"
	"go.docrelay.dev/core/protocol"
	"go.docrelay.dev/core/queue"
)

// handler binds Lambda invocations to a runrelay.Env, which persists across
// invocations of a warm function.
type handler struct {
	env *runrelay.Env
}

// capture performs one capture run. Failures are returned to Lambda, which
// marks the invocation as failed and applies its retry policy.
func (h *handler) capture(ctx context.Context, _ json.RawMessage) (protocol.Result, error) {
	var res, err = h.env.RunCapture(ctx)
	if err != nil {
		log.WithFields(log.Fields{
			"requestId": requestID(ctx),
			"class":     capture.ClassOf(err),
			"err":       err,
		}).Error("capture failed")
		return protocol.Result{}, err
	}
	return res, nil
}

// index applies the records of an SQS FIFO batch in order. The first record
// which fails, and every record after it, are reported as batch item
// failures without being applied, so that SQS redelivers them in order.
func (h *handler) index(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	var ix, err = h.env.Indexer(ctx)
	if err != nil {
		return resp, err
	}
	for i, rec := range ev.Records {
		var msg = queue.Message{
			ID:            rec.MessageId,
			Body:          rec.Body,
			ReceiptHandle: rec.ReceiptHandle,
		}
		if _, err := ix.Process(ctx, msg); err == nil {
			continue
		}
		for _, failed := range ev.Records[i:] {
			resp.BatchItemFailures = append(resp.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: failed.MessageId})
		}
		log.WithFields(log.Fields{
			"requestId": requestID(ctx),
			"messageId": rec.MessageId,
			"remaining": len(ev.Records) - i,
		}).Warn("stopped batch at failed record")
		break
	}
	return resp, nil
}

// pump performs one pump run. An invocation failure is reported through
// the failure Result rather than as an error, so that Lambda does not retry
// the run and re-invoke the function outside of its schedule.
func (h *handler) pump(ctx context.Context, _ json.RawMessage) (protocol.Result, error) {
	var p, err = h.env.Pump(ctx, requestID(ctx))
	if err != nil {
		return protocol.Result{}, err
	}
	res, _ := p.Run(ctx)
	return res, nil
}

func requestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		return lc.AwsRequestID
	}
	return ""
}
