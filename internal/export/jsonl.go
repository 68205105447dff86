package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/crossharvest/crossharvest/internal/storage"
)

// WriteJSONL writes one JSON object per row.
func WriteJSONL(w io.Writer, rows []storage.ViewRow) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encoding %s: %w", row.DOI, err)
		}
	}
	return bw.Flush()
}
