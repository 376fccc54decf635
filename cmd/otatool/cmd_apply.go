// Copyright 2026 The Armored Witness OTA authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/machinebox/progress"
	"github.com/transparency-dev/armored-witness-ota/internal/flashdev"
	"github.com/transparency-dev/armored-witness-ota/keys"
	"github.com/transparency-dev/armored-witness-ota/ota"
	"github.com/transparency-dev/armored-witness-ota/otafile"
	"k8s.io/klog/v2"
)

func init() {
	const (
		short = "Apply an OTA upgrade file to a simulated device"
		long  = "Streams an upgrade file from a path or http(s) URL into a device directory holding flash.img and boot.yaml, as a device would while downloading it."
	)

	if _, err := parser.AddCommand("apply", short, long, &cmdApply{}); err != nil {
		panic(err)
	}
}

type cmdApply struct {
	Device         string        `long:"device" required:"yes" value-name:"DIR" description:"Device directory"`
	Init           bool          `long:"init" description:"Create the device directory first"`
	Layout         string        `long:"layout" value-name:"FILE" description:"YAML flash layout used with --init (default built-in)"`
	Pub            string        `long:"pub" value-name:"KEY.pub" description:"Accept only files signed for this verifier key"`
	Key            string        `long:"key" value-name:"KEY.key" description:"Decrypt the file with this envelope key"`
	BuildTimestamp uint64        `long:"build-timestamp" value-name:"MS" description:"Build timestamp of the running firmware"`
	AllowDowngrade bool          `long:"allow-downgrade" description:"Disable downgrade protection"`
	Chunk          int           `long:"chunk" default:"1460" description:"Bytes passed to the stream per write"`
	Timeout        time.Duration `long:"timeout" default:"5m" description:"Download timeout for URLs"`

	Positional struct {
		Source string `positional-arg-name:"<source>" required:"yes"`
	} `positional-args:"yes"`
}

// upgradeStream is satisfied by both ota.BasicStream and ota.EncryptedStream.
type upgradeStream interface {
	io.Writer
	Complete() bool
	Slot() ota.Slot
}

func (c *cmdApply) Execute(args []string) error {
	if c.Chunk <= 0 {
		return fmt.Errorf("invalid --chunk %d", c.Chunk)
	}
	if c.AllowDowngrade == (c.BuildTimestamp != 0) {
		return errors.New("exactly one of --build-timestamp or --allow-downgrade is required")
	}

	dev, err := c.openDevice()
	if err != nil {
		return err
	}
	defer dev.Close()

	stream, err := c.newStream(dev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	src, err := openSource(ctx, c.Positional.Source)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := feed(stream, src, c.Chunk); err != nil {
		return err
	}
	s := stream.Slot()
	klog.Infof("Upgrade applied to slot %d at 0x%08x", s.Index, s.Address)
	return nil
}

func (c *cmdApply) openDevice() (*flashdev.FileFlash, error) {
	if !c.Init {
		return flashdev.OpenFileFlash(c.Device)
	}
	l := flashdev.DefaultLayout()
	if c.Layout != "" {
		var err error
		if l, err = flashdev.LoadLayout(c.Layout); err != nil {
			return nil, err
		}
	}
	return flashdev.CreateFileFlash(c.Device, l)
}

func (c *cmdApply) newStream(dev *flashdev.FileFlash) (upgradeStream, error) {
	var v ota.Verifier = ota.NewChecksumVerifier()
	if c.Pub != "" {
		b, err := os.ReadFile(c.Pub)
		if err != nil {
			return nil, err
		}
		pub, err := keys.ParseVerifierKey(string(b))
		if err != nil {
			return nil, err
		}
		v = ota.NewSignatureVerifier(pub)
	}

	opts := []ota.Option{ota.WithReservedRegions(dev.Layout().Reserved...)}
	if c.AllowDowngrade {
		opts = append(opts, ota.WithDowngrade())
	} else {
		opts = append(opts, ota.WithBuildTimestamp(otafile.Timestamp(c.BuildTimestamp)))
	}
	basic, err := ota.NewBasicStream(dev, dev, v, opts...)
	if err != nil {
		return nil, err
	}
	if c.Key == "" {
		return basic, nil
	}

	b, err := os.ReadFile(c.Key)
	if err != nil {
		return nil, err
	}
	key, err := keys.ParseEncryptionKey(string(b))
	if err != nil {
		return nil, err
	}
	defer clear(key)
	return ota.NewEncryptedStream(key, basic)
}

// feed copies src into w in pieces of at most chunk bytes.
func feed(w upgradeStream, src io.Reader, chunk int) error {
	buf := make([]byte, chunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("upgrade failed: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if !w.Complete() {
		return errors.New("upgrade failed: file is incomplete")
	}
	return nil
}

// openSource opens a local file or an http(s) URL, reporting read progress.
func openSource(ctx context.Context, src string) (io.ReadCloser, error) {
	u, err := url.Parse(src)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return readHTTP(ctx, u)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	bar := pb.Full.Start64(st.Size())
	return &barReader{Reader: bar.NewProxyReader(f), f: f, bar: bar}, nil
}

type barReader struct {
	io.Reader
	f   *os.File
	bar *pb.ProgressBar
}

func (r *barReader) Close() error {
	r.bar.Finish()
	return r.f.Close()
}

func readHTTP(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Client.Do(): %v", err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		resp.Body.Close()
		klog.Infof("Not found: %q", u.String())
		return nil, os.ErrNotExist
	case http.StatusOK:
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected http status %q", resp.Status)
	}

	pr := progress.NewReader(resp.Body)
	tctx, cancel := context.WithCancel(ctx)
	if resp.ContentLength > 0 {
		go func() {
			for p := range progress.NewTicker(tctx, pr, resp.ContentLength, time.Second) {
				klog.Infof("Downloading %q: %d%%, %v remaining...", u.String(), int(p.Percent()), p.Remaining().Round(time.Second))
			}
		}()
	}
	return &httpReader{Reader: pr, body: resp.Body, cancel: cancel, url: u.String()}, nil
}

type httpReader struct {
	io.Reader
	body   io.Closer
	cancel context.CancelFunc
	url    string
}

func (r *httpReader) Close() error {
	r.cancel()
	klog.Infof("Downloading %q: finished", r.url)
	if err := r.body.Close(); err != nil {
		klog.Errorf("resp.Body.Close(): %v", err)
		return err
	}
	return nil
}
