package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/bootstrap"
	"checkin_messenger/internal/domain"
)

type bulkFlags struct {
	phones   string
	file     string
	template string
	language string
	header   domain.HeaderInput
}

// job assembles the broadcast; --phones entries come before the file's.
func (f bulkFlags) job() (domain.BulkJob, error) {
	phones := app.ParsePhoneList(f.phones)
	if f.file != "" {
		fh, err := os.Open(f.file)
		if err != nil {
			return domain.BulkJob{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		defer fh.Close()
		more, err := app.ReadPhoneList(fh)
		if err != nil {
			return domain.BulkJob{}, err
		}
		phones = append(phones, more...)
	}
	hdr, err := domain.ParseHeader(f.header)
	if err != nil {
		return domain.BulkJob{}, err
	}
	return domain.BulkJob{
		Phones:   phones,
		Template: strings.TrimSpace(f.template),
		Language: strings.TrimSpace(f.language),
		Header:   hdr,
	}, nil
}

func newBulkCmd() *cobra.Command {
	var f bulkFlags
	c := &cobra.Command{
		Use:   "bulk",
		Short: "Broadcast one template to a list of phone numbers",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := f.job()
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *bootstrap.App) error {
				sum, err := a.Bulk.RunBulk(ctx, job)
				if sum.JobID != "" {
					if perr := printJSON(cmd.OutOrStdout(), sum); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	c.Flags().StringVar(&f.phones, "phones", "", "comma or space separated phone numbers")
	c.Flags().StringVar(&f.file, "file", "", "file with one phone number per line")
	c.Flags().StringVar(&f.template, "template", "", "template name")
	c.Flags().StringVar(&f.language, "language", "", "template language (default: DEFAULT_LANGUAGE)")
	c.Flags().StringVar(&f.header.Type, "header-type", "text", "text|image|video|document|location")
	c.Flags().StringVar(&f.header.Text, "header-text", "", "text header")
	c.Flags().StringVar(&f.header.URL, "header-url", "", "media link for image/video/document")
	c.Flags().StringVar(&f.header.Filename, "header-filename", "", "document filename")
	c.Flags().StringVar(&f.header.Latitude, "lat", "", "location latitude")
	c.Flags().StringVar(&f.header.Longitude, "lon", "", "location longitude")
	c.Flags().StringVar(&f.header.Name, "header-name", "", "location name")
	c.Flags().StringVar(&f.header.Address, "header-address", "", "location address")
	_ = c.MarkFlagRequired("template")
	return c
}
