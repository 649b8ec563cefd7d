package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"cdpwatch/pkg/grpcweb"
)

var (
	decodeFlagContentType string
	decodeFlagJSON        bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a gRPC-Web response body",
	Long: `Read a gRPC-Web body from a file or stdin and print the cleaned payload text
and the terminal status. Without --content-type the input is treated as the
text form a page reports; with it, framed and base64 bodies are handled too.

Examples:
  cdpwatch decode body.txt
  cat body.bin | cdpwatch decode --content-type application/grpc-web+proto --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			data []byte
			err  error
		)
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
		} else {
			data, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}

		var d grpcweb.Decoded
		if decodeFlagContentType != "" {
			d = grpcweb.DecodeBody(decodeFlagContentType, data)
		} else {
			d = grpcweb.Decode(string(data))
		}
		return printDecoded(cmd.OutOrStdout(), d, decodeFlagJSON)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeFlagContentType, "content-type", "", "Response content-type")
	decodeCmd.Flags().BoolVar(&decodeFlagJSON, "json", false, "Print a JSON object")
}

func printDecoded(w io.Writer, d grpcweb.Decoded, asJSON bool) error {
	if !asJSON {
		_, err := fmt.Fprintf(w, "status: %s\ntext: %s\n", d.Status, d.Text)
		return err
	}
	line, err := sjson.Set("{}", "status", d.Status.String())
	if err == nil {
		line, err = sjson.Set(line, "text", d.Text)
	}
	if err == nil {
		if code, ok := d.Status.Code(); ok {
			line, err = sjson.Set(line, "code", int(code))
		}
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, line)
	return err
}
