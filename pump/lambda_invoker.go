package pump

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/lambda"
	"github.com/aws/aws-sdk-go/service/lambda/lambdaiface"
	"github.com/pkg/errors"
)

// LambdaInvoker is an Invoker of AWS Lambda functions.
type LambdaInvoker struct {
	client lambdaiface.LambdaAPI
}

// NewLambdaInvoker returns a LambdaInvoker of the AWS session.
func NewLambdaInvoker(sess *session.Session) *LambdaInvoker {
	return &LambdaInvoker{client: lambda.New(sess)}
}

// NewLambdaInvokerWithClient returns a LambdaInvoker using the provided client.
func NewLambdaInvokerWithClient(client lambdaiface.LambdaAPI) *LambdaInvoker {
	return &LambdaInvoker{client: client}
}

// Invoke implements Invoker. A function error reported by a synchronous
// invocation is returned as an error.
func (l *LambdaInvoker) Invoke(ctx context.Context, function string, mode Mode) error {
	var out, err = l.client.InvokeWithContext(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(function),
		InvocationType: aws.String(string(mode)),
	})
	if err != nil {
		return err
	} else if out.FunctionError != nil {
		return errors.Errorf("function error %s: %s", aws.StringValue(out.FunctionError), out.Payload)
	} else if status := aws.Int64Value(out.StatusCode); status != int64(mode.SuccessStatus()) {
		return errors.Errorf("unexpected invocation status %d", status)
	}
	return nil
}
