// Package ws2812led drives a single WS2812 pixel as an rgb.LED. It only
// builds under TinyGo.
package ws2812led
