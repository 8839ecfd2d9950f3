// Package scan implements the pre-dispatch payload scanner: PII detection
// (structured patterns, Luhn-validated card numbers, a lightweight name
// heuristic), secret detection (curated pattern library plus entropy
// analysis) and prompt-injection heuristics with a composite risk score.
//
// Detections never leave the package with matched content attached;
// incident records carry only finding type, severity and span position.
package scan
