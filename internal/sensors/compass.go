package sensors

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
)

// errNoHeading marks a valid NMEA sentence that carries no usable heading.
var errNoHeading = errors.New("compass: sentence has no heading")

// OpenCompass opens the serial port of an NMEA heading sensor.
func OpenCompass(portName string, baud uint) (io.ReadWriteCloser, error) {
	serialOpts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		return nil, fmt.Errorf("compass: open %s: %w", portName, err)
	}
	log.Printf("compass: serial port opened on %s at %d baud", portName, baud)
	return port, nil
}

// ParseHeading extracts a heading in degrees from an HDT, HDG or THS
// sentence. The second return value reports whether the heading is
// referenced to true north.
func ParseHeading(line string) (float64, bool, error) {
	sentence, err := nmea.Parse(line)
	if err != nil {
		return 0, false, err
	}

	switch sentence.DataType() {
	case nmea.TypeHDT:
		m := sentence.(nmea.HDT)
		return m.Heading, true, nil
	case nmea.TypeHDG:
		m := sentence.(nmea.HDG)
		return m.Heading, false, nil
	case nmea.TypeTHS:
		m := sentence.(nmea.THS)
		if m.Status == nmea.InvalidTHS {
			return 0, false, errNoHeading
		}
		return m.Heading, true, nil
	default:
		return 0, false, errNoHeading
	}
}

// ReadHeadings reads NMEA lines from r and calls fn for every heading until
// r fails. Garbage and unrelated sentences are skipped.
func ReadHeadings(r io.Reader, fn func(deg float64)) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "$") {
			if heading, _, perr := ParseHeading(line); perr == nil {
				fn(heading)
			}
		}
		if err != nil {
			return err
		}
	}
}
