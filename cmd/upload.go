package cmd

import (
	"context"
	"errors"
	"flag"
	"path/filepath"
	"time"

	"grimm.is/humangym/internal/logging"
	"grimm.is/humangym/internal/protocol"
	"grimm.is/humangym/internal/upload"
)

// RunUpload uploads one recording file the same way the server does.
func RunUpload(args []string) error {
	flags := flag.NewFlagSet("upload", flag.ExitOnError)
	bucket := flags.String("bucket", "", "Destination bucket")
	project := flags.String("project", "", "Project id")
	user := flags.String("user", "", "User id")
	plain := flags.Bool("no-compress", false, "Upload without gzip")
	timeout := flags.Duration("timeout", upload.DefaultTimeout, "Upload timeout")
	flags.Parse(args)

	if flags.NArg() != 1 {
		return errors.New("usage: upload -bucket B -project P -user U <file>")
	}
	path := flags.Arg(0)
	name := filepath.Base(path)
	req := protocol.UploadRequest{
		ProjectID:   *project,
		UserID:      *user,
		File:        name,
		FilePath:    path,
		StoragePath: protocol.StorageKey(*project, *user, name),
		Bucket:      *bucket,
		Compress:    !*plain,
	}
	if err := upload.Check(req); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	up, err := upload.NewS3UploaderFromEnv(ctx, logging.Default())
	if err != nil {
		return err
	}
	start := time.Now()
	res, err := up.Upload(ctx, req)
	if err != nil {
		return err
	}
	Printer.Printf("Uploaded %s to s3://%s/%s (%d bytes in %s)\n", res.Path, res.Bucket, res.Key, res.Bytes, time.Since(start).Round(time.Millisecond))
	return nil
}
