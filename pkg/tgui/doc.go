// Package tgui holds Telegram HTML helpers: escaping, tag builders and rune-safe truncation.
package tgui
