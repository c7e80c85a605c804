// SPDX-License-Identifier: MPL-2.0

// Package metrics records install outcomes as Prometheus metrics. pyvm is a
// short-lived CLI, so metrics are not served; they are written to a
// node-exporter textfile when metrics.textfile is configured.
package metrics
