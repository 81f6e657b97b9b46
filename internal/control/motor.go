package control

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/qphone/internal/qcfp"
)

// NumMotors is the number of rotors.
const NumMotors = 4

// MotorSpeeds are per-motor angular speeds in rad/s. Motors 0 and 2 sit on the
// pitch axis, motors 1 and 3 on the roll axis; 0 and 2 spin opposite to 1
// and 3.
type MotorSpeeds [NumMotors]float64

// mixing maps thrust, roll, pitch and yaw outputs to squared motor speeds.
var mixing = mat.NewDense(NumMotors, 4, []float64{
	0.25, 0, -0.5, -0.25,
	0.25, -0.5, 0, 0.25,
	0.25, 0, 0.5, -0.25,
	0.25, 0.5, 0, 0.25,
})

// MixOutputs applies the mixing matrix to a controller output. The result is
// proportional to squared motor speed and may be negative.
func MixOutputs(out Output) [NumMotors]float64 {
	var v mat.VecDense
	v.MulVec(mixing, mat.NewVecDense(len(out), out[:]))
	var mixed [NumMotors]float64
	copy(mixed[:], v.RawVector().Data)
	return mixed
}

// OutputToMotorSpeeds mixes a controller output and takes the square root of
// each motor term. Terms that do not yield a real speed are forced to zero.
func OutputToMotorSpeeds(out Output) MotorSpeeds {
	mixed := MixOutputs(out)
	var speeds MotorSpeeds
	for i, m := range mixed {
		s := math.Sqrt(m)
		if math.IsNaN(s) || math.IsInf(s, 0) {
			logf("motor %d: mixed output %g has no real speed, sending 0", i, m)
			s = 0
		}
		speeds[i] = s
	}
	return speeds
}

// NetActuation returns -s0 + s1 - s2 + s3, the reaction torque term fed back
// into the next controller input.
func (s MotorSpeeds) NetActuation() float64 {
	return -s[0] + s[1] - s[2] + s[3]
}

// Duty cycle polynomials fitted on the bench, in rotations per second. Motors
// 0-2 share a curve; motor 3 has its own.
var (
	dutyCurve012 = [5]float64{6.0591653718273717e+00, -4.0488409071747195e-02, 1.5810285607433920e-03, -1.5588605135663991e-05, 5.7274865787604323e-08}
	dutyCurve3   = [5]float64{6.0890556405092111e+00, -4.1825141232435560e-02, 1.5307073977065305e-03, -1.4529077018987592e-05, 5.1597815214909915e-08}
)

const (
	dutyAtZero     = 5.75 // duty cycle that the board reads as speed 0
	dutyScale      = 20   // board speed steps per duty cycle percent
	radiansPerTurn = 2 * math.Pi
)

// DutyCycle returns the PWM duty cycle (percent) that drives motor at rps
// rotations per second.
func DutyCycle(motor int, rps float64) float64 {
	c := dutyCurve012
	if motor == 3 {
		c = dutyCurve3
	}
	return c[0] + rps*(c[1]+rps*(c[2]+rps*(c[3]+rps*c[4])))
}

// BoardSpeed converts a duty cycle to the board's raw speed scale, clamped to
// 0..qcfp.MaxMotorSpeed.
func BoardSpeed(duty float64) byte {
	v := math.Floor((duty - dutyAtZero) * dutyScale)
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > float64(qcfp.MaxMotorSpeed):
		return qcfp.MaxMotorSpeed
	default:
		return byte(v)
	}
}

// BoardSpeeds converts motor speeds in rad/s to raw board speeds.
func (s MotorSpeeds) BoardSpeeds() [NumMotors]byte {
	var out [NumMotors]byte
	for i, w := range s {
		if math.IsNaN(w) {
			continue
		}
		out[i] = BoardSpeed(DutyCycle(i, w/radiansPerTurn))
	}
	return out
}

// Packet builds the raw motor control packet for s.
func (s MotorSpeeds) Packet() []byte {
	return qcfp.RawMotorSpeeds(s.BoardSpeeds())
}
