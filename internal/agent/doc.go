// Package agent infers which interactive CLI agent, if any, is attached
// to a terminal session.
//
// Detection is heuristic and stream-based: typed commands are matched
// against an ordered registry of per-agent strategies, and streamed output
// is scanned for startup banners as a secondary signal. Matches carry a
// confidence score; callers are free to ignore low-confidence results.
package agent
