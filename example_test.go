package h1pipe_test

import (
	"context"
	"fmt"
	"time"

	"github.com/crlx/h1pipe"
)

func ExampleClient_Do() {
	client, err := h1pipe.NewClient("http://example.com")
	if err != nil {
		panic(err)
	}
	defer client.Close()

	resp, err := client.Do(context.Background(), &h1pipe.Request{
		Method:  "GET",
		Path:    "/",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		panic(err)
	}
	fmt.Println(resp.StatusCode, len(resp.Body))
}

func ExampleClient_Submit() {
	client, err := h1pipe.NewClient("https://example.com")
	if err != nil {
		panic(err)
	}
	defer client.Close()

	abort := h1pipe.NewAbortSignal()
	done := make(chan struct{})
	err = client.Submit(context.Background(), &h1pipe.Request{
		Method: "GET",
		Path:   "/stream",
		Signal: abort,
	}, func(ctx context.Context, err error, start *h1pipe.ResponseStart) h1pipe.Sink {
		if err != nil {
			fmt.Println("request failed:", err)
			close(done)
			return nil
		}
		fmt.Println("status:", start.StatusCode)
		return func(ctx context.Context, err error, chunk []byte) {
			switch {
			case err != nil:
				fmt.Println("body failed:", err)
				close(done)
			case chunk == nil:
				close(done)
			default:
				fmt.Println("chunk:", len(chunk))
			}
		}
	})
	if err != nil {
		panic(err)
	}
	<-done
}
