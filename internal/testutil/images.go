// Package testutil builds image fixtures for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
)

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// JPEG returns an encoded 16x16 JPEG of colour c without metadata.
func JPEG(c color.Color) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Solid(16, 16, c), nil); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG returns an encoded 16x16 PNG of colour c.
func PNG(c color.Color) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Solid(16, 16, c)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// GeotaggedJPEG returns a JPEG whose APP1 EXIF block carries the given GPS position.
func GeotaggedJPEG(lat, lon float64, c color.Color) []byte {
	plain := JPEG(c)
	tiff := gpsTIFF(lat, lon)

	var app1 bytes.Buffer
	app1.Write([]byte{0xFF, 0xE1})
	binary.Write(&app1, binary.BigEndian, uint16(2+6+len(tiff)))
	app1.WriteString("Exif\x00\x00")
	app1.Write(tiff)

	// SOI, then APP1, then the rest of the encoded stream.
	out := make([]byte, 0, len(plain)+app1.Len())
	out = append(out, plain[:2]...)
	out = append(out, app1.Bytes()...)
	out = append(out, plain[2:]...)
	return out
}

// gpsTIFF builds a little-endian TIFF block holding IFD0 -> GPS IFD.
func gpsTIFF(lat, lon float64) []byte {
	le := binary.LittleEndian
	var b bytes.Buffer
	w16 := func(v uint16) { binary.Write(&b, le, v) }
	w32 := func(v uint32) { binary.Write(&b, le, v) }

	const (
		ifd0Offset = 8
		gpsOffset  = ifd0Offset + 2 + 12 + 4
		dataOffset = gpsOffset + 2 + 4*12 + 4
	)

	latRef, lonRef := "N", "E"
	if lat < 0 {
		latRef = "S"
	}
	if lon < 0 {
		lonRef = "W"
	}

	// Header
	b.WriteString("II")
	w16(42)
	w32(ifd0Offset)

	// IFD0: GPSInfo pointer only
	w16(1)
	w16(0x8825)
	w16(4) // LONG
	w32(1)
	w32(gpsOffset)
	w32(0)

	// GPS IFD
	w16(4)
	asciiEntry := func(tag uint16, v string) {
		w16(tag)
		w16(2) // ASCII
		w32(2)
		b.WriteString(v)
		b.Write([]byte{0, 0, 0})
	}
	rationalEntry := func(tag uint16, offset uint32) {
		w16(tag)
		w16(5) // RATIONAL
		w32(3)
		w32(offset)
	}
	asciiEntry(1, latRef)
	rationalEntry(2, dataOffset)
	asciiEntry(3, lonRef)
	rationalEntry(4, dataOffset+24)
	w32(0)

	for _, v := range []float64{lat, lon} {
		d, m, sMilli := dms(math.Abs(v))
		w32(d)
		w32(1)
		w32(m)
		w32(1)
		w32(sMilli)
		w32(1000)
	}

	return b.Bytes()
}

func dms(v float64) (deg, min, secMilli uint32) {
	d := math.Floor(v)
	mFloat := (v - d) * 60
	m := math.Floor(mFloat)
	s := (mFloat - m) * 60
	return uint32(d), uint32(m), uint32(math.Round(s * 1000))
}

// Zip packs name -> content into an archive, in the given order.
func Zip(entries ...Entry) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(e.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Entry is one file of a test archive.
type Entry struct {
	Name string
	Data []byte
}
