package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const thumbnailQuality = 75

// Thumbnail decodes an image and returns a JPEG that fits in a max x max
// box. Images already inside the box keep their size.
func Thumbnail(data []byte, max int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	w, h := fit(img.Bounds().Dx(), img.Bounds().Dy(), max)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	scale := min(float64(max)/float64(w), float64(max)/float64(h))
	tw, th := int(float64(w)*scale), int(float64(h)*scale)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

// Media produces the video and audio derivatives.
type Media interface {
	TranscodeVideo(ctx context.Context, data []byte) ([]byte, error)
	VideoThumbnail(ctx context.Context, data []byte, max int) ([]byte, error)
	NormalizeAudio(ctx context.Context, data []byte) ([]byte, error)
}

// FFmpeg shells out to the ffmpeg binary through temporary files.
type FFmpeg struct {
	Path string
}

func (f FFmpeg) TranscodeVideo(ctx context.Context, data []byte) ([]byte, error) {
	return f.run(ctx, data, "out.mp4",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
	)
}

func (f FFmpeg) VideoThumbnail(ctx context.Context, data []byte, max int) ([]byte, error) {
	filter := "thumbnail,scale='min(" + strconv.Itoa(max) + ",iw)':-2"
	return f.run(ctx, data, "thumb.jpg", "-frames:v", "1", "-vf", filter)
}

func (f FFmpeg) NormalizeAudio(ctx context.Context, data []byte) ([]byte, error) {
	return f.run(ctx, data, "out.m4a", "-vn", "-af", "loudnorm", "-c:a", "aac", "-b:a", "128k")
}

func (f FFmpeg) run(ctx context.Context, data []byte, outName string, args ...string) ([]byte, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffmpeg"
	}
	dir, err := os.MkdirTemp("", "attachment-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input")
	if err := os.WriteFile(in, data, 0600); err != nil {
		return nil, err
	}
	out := filepath.Join(dir, outName)

	cmdArgs := append([]string{"-hide_banner", "-loglevel", "error", "-y", "-i", in}, args...)
	cmdArgs = append(cmdArgs, out)
	cmd := exec.CommandContext(ctx, bin, cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return os.ReadFile(out)
}
