package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatRoutes renders a slice of routes in the requested format.
func formatRoutes(routes []routeView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(routes)
	case formatTable:
		return formatRoutesTable(routes), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatRoute renders a single route in the requested format.
func formatRoute(route routeView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(route)
	case formatTable:
		return formatRouteDetail(route), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatNeighbors renders a slice of neighbors in the requested format.
func formatNeighbors(neighbors []neighborView, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(neighbors)
	case formatTable:
		return formatNeighborsTable(neighbors), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatRoutesTable(routes []routeView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PREFIX\tNEXT-HOP\tMETRIC\tINTERFACE\tSOURCE\tTAG")

	for _, r := range routes {
		nextHop := r.NextHop
		if nextHop == "" {
			nextHop = valueNA
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%d\n",
			r.Prefix, nextHop, r.Metric, r.Interface, r.Source, r.Tag)
	}

	w.Flush()

	return buf.String()
}

func formatRouteDetail(r routeView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	nextHop := r.NextHop
	if nextHop == "" {
		nextHop = valueNA
	}

	fmt.Fprintf(w, "Prefix:\t%s\n", r.Prefix)
	fmt.Fprintf(w, "Next Hop:\t%s\n", nextHop)
	fmt.Fprintf(w, "Metric:\t%d\n", r.Metric)
	fmt.Fprintf(w, "Tag:\t%d\n", r.Tag)
	fmt.Fprintf(w, "Interface:\t%s\n", r.Interface)
	fmt.Fprintf(w, "Source:\t%s\n", r.Source)

	learnedFrom := r.LearnedFrom
	if learnedFrom == "" {
		learnedFrom = valueNA
	}
	fmt.Fprintf(w, "Learned From:\t%s\n", learnedFrom)
	fmt.Fprintf(w, "Changed:\t%t\n", r.Changed)

	w.Flush()

	return buf.String()
}

func formatNeighborsTable(neighbors []neighborView) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tINTERFACE\tLAST-HEARD\tBAD-PACKETS\tBAD-ROUTES")

	for _, n := range neighbors {
		lastHeard := valueNA
		if !n.LastHeard.IsZero() {
			lastHeard = n.LastHeard.Format(time.RFC3339)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n",
			n.Address, n.Interface, lastHeard, n.BadPackets, n.BadRoutes)
	}

	w.Flush()

	return buf.String()
}

// --- JSON formatter ---

func formatJSONValue(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
