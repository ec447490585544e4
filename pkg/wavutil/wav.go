// Package wavutil реализует минимальные операции над WAV (PCM) файлами:
// чтение заголовка, вычисление длительности, обрезку и склейку с паузами.
package wavutil

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrNotWAV      = errors.New("файл не является корректным WAV")
	ErrUnsupported = errors.New("неподдерживаемый формат WAV")
)

// Info описывает параметры PCM-потока внутри WAV-контейнера.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataLen       int
}

// Duration возвращает длительность потока в секундах.
func (i Info) Duration() float64 {
	bytesPerSecond := i.SampleRate * i.Channels * i.BitsPerSample / 8
	if bytesPerSecond == 0 {
		return 0
	}
	return float64(i.DataLen) / float64(bytesPerSecond)
}

func (i Info) blockAlign() int {
	return i.Channels * i.BitsPerSample / 8
}

// Parse разбирает заголовок WAV и возвращает параметры потока и смещение
// начала PCM-данных.
func Parse(b []byte) (Info, int, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Info{}, 0, ErrNotWAV
	}

	var info Info
	haveFmt := false
	pos := 12
	// Обходим чанки: fmt может идти не сразу перед data (LIST, cue и т.п.).
	for pos+8 <= len(b) {
		chunkID := string(b[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		switch chunkID {
		case "fmt ":
			if chunkLen < 16 || body+16 > len(b) {
				return Info{}, 0, ErrNotWAV
			}
			audioFormat := binary.LittleEndian.Uint16(b[body : body+2])
			if audioFormat != 1 {
				return Info{}, 0, fmt.Errorf("%w: audio format %d, ожидается PCM", ErrUnsupported, audioFormat)
			}
			info.Channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Info{}, 0, ErrNotWAV
			}
			if body+chunkLen > len(b) {
				chunkLen = len(b) - body
			}
			info.DataLen = chunkLen
			return info, body, nil
		}
		// Чанки выровнены по два байта.
		pos = body + chunkLen + chunkLen%2
	}
	return Info{}, 0, ErrNotWAV
}

// Duration возвращает длительность WAV-файла в секундах.
func Duration(b []byte) (float64, error) {
	info, _, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return info.Duration(), nil
}

// Build собирает WAV-файл из параметров потока и PCM-данных.
func Build(info Info, pcm []byte) []byte {
	byteRate := info.SampleRate * info.Channels * info.BitsPerSample / 8
	out := make([]byte, 0, 44+len(pcm))
	out = append(out, []byte("RIFF")...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, []byte("WAVE")...)
	out = append(out, []byte("fmt ")...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(info.Channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(info.SampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(info.blockAlign()))
	out = binary.LittleEndian.AppendUint16(out, uint16(info.BitsPerSample))
	out = append(out, []byte("data")...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}

// Crop обрезает WAV до maxSeconds. Если файл короче, возвращается как есть.
// Срез выравнивается по границе сэмпла.
func Crop(b []byte, maxSeconds float64) ([]byte, error) {
	info, offset, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if info.Duration() <= maxSeconds {
		return b, nil
	}
	bytesPerSecond := info.SampleRate * info.Channels * info.BitsPerSample / 8
	keep := int(maxSeconds * float64(bytesPerSecond))
	keep -= keep % info.blockAlign()
	if keep > info.DataLen {
		keep = info.DataLen
	}
	cropped := info
	cropped.DataLen = keep
	return Build(cropped, b[offset:offset+keep]), nil
}

// Silence возвращает PCM-тишину заданной длительности для параметров потока.
func Silence(info Info, seconds float64) []byte {
	bytesPerSecond := info.SampleRate * info.Channels * info.BitsPerSample / 8
	n := int(seconds * float64(bytesPerSecond))
	n -= n % info.blockAlign()
	if n < 0 {
		n = 0
	}
	return make([]byte, n)
}

// Concat склеивает WAV-сегменты в один файл, вставляя после i-го сегмента
// паузу pausesAfter[i] секунд (nil или нулевое значение - без паузы; пауза
// после последнего сегмента не вставляется). Параметры потока всех сегментов
// должны совпадать.
func Concat(segments [][]byte, pausesAfter []float64) ([]byte, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: пустой список сегментов", ErrNotWAV)
	}

	var base Info
	var pcm []byte
	for i, seg := range segments {
		info, offset, err := Parse(seg)
		if err != nil {
			return nil, fmt.Errorf("сегмент %d: %w", i, err)
		}
		if i == 0 {
			base = info
		} else if info.SampleRate != base.SampleRate || info.Channels != base.Channels || info.BitsPerSample != base.BitsPerSample {
			return nil, fmt.Errorf("%w: параметры сегмента %d не совпадают с первым", ErrUnsupported, i)
		}
		pcm = append(pcm, seg[offset:offset+info.DataLen]...)
		if pausesAfter != nil && i < len(segments)-1 && i < len(pausesAfter) && pausesAfter[i] > 0 {
			pcm = append(pcm, Silence(base, pausesAfter[i])...)
		}
	}

	base.DataLen = len(pcm)
	return Build(base, pcm), nil
}
