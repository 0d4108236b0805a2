// Package aar drives the motor board of a micro:bit "AAR" robot over the
// micro:bit Bluetooth UART service.
//
// An Adapter discovers the board through a Transport, resolves the UART
// service and its two characteristics, and turns motor calls into two or
// three byte command frames. Frames are written one at a time, in call
// order, with a minimum spacing between writes.
//
//	a := aar.New(aar.BlueZ(bt, log), aar.Options{Logger: log})
//	a.OnFunc(aar.EventConnected, func() { log.Info("ready") })
//	if err := a.Discover(ctx); err != nil {
//		return err
//	}
//	_ = a.SetMotorPower(aar.MotorBoth, 60)
//	_ = a.StartMotor(aar.MotorBoth)
package aar
